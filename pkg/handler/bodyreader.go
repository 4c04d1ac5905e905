package handler

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// bodyReader wraps a request body so that an error encountered while
// reading it does not have to be threaded through every intermediate
// io.Copy; the error is captured and can be inspected afterwards with
// hasError. It also tracks how many bytes were read, which becomes
// the byte count appended to the .stream scratch file.
type bodyReader struct {
	reader       io.Reader
	bytesCounter int64

	lock sync.RWMutex
	err  error
}

// newBodyReader wraps r.Body, capping it at maxSize bytes when maxSize
// is positive.
func newBodyReader(w http.ResponseWriter, r *http.Request, maxSize int64) *bodyReader {
	var reader io.Reader = r.Body
	if maxSize > 0 {
		reader = http.MaxBytesReader(w, r.Body, maxSize)
	}
	return &bodyReader{reader: reader}
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	atomic.AddInt64(&b.bytesCounter, int64(n))

	if err != nil && err != io.EOF {
		translated := err

		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
			translated = errClientDisconnected
		}

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			translated = ErrSizeExceeded
		}

		b.lock.Lock()
		if b.err == nil {
			b.err = translated
		}
		b.lock.Unlock()
	}

	return n, err
}

// hasError returns the first non-EOF error observed while reading, if
// any.
func (b *bodyReader) hasError() error {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.err
}

func (b *bodyReader) bytesRead() int64 {
	return atomic.LoadInt64(&b.bytesCounter)
}

// errClientDisconnected marks a body read that ended because the
// client went away mid-upload. It is not surfaced to the client as an
// HTTP error; the caller appends whatever scratch bytes arrived, or
// discards them when the request declared an Upload-Checksum.
var errClientDisconnected = errors.New("handler: client disconnected while streaming body")
