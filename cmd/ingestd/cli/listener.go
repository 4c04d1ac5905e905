package cli

import "net"

// Listener wraps a net.Listener to track the number of open
// connections in MetricsOpenConnections.
type Listener struct {
	net.Listener
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	MetricsOpenConnections.Inc()
	return &Conn{Conn: c}, nil
}

// Conn wraps a net.Conn so Close can decrement the open-connection gauge.
type Conn struct {
	net.Conn
	closeRecorded bool
}

func (c *Conn) Close() error {
	if !c.closeRecorded {
		c.closeRecorded = true
		MetricsOpenConnections.Dec()
	}
	return c.Conn.Close()
}

// NewListener binds address over TCP.
func NewListener(address string) (net.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l}, nil
}
