// Command ingestd runs the resumable-upload server: a tus v1.0.0
// protocol engine backed by local disk storage, with Prometheus
// metrics and structured logging.
package main

import (
	"github.com/ingestd/ingestd/cmd/ingestd/cli"
)

func main() {
	cli.ParseFlags()

	if cli.Flags.ShowVersion {
		cli.ShowVersion()
		return
	}

	cli.Serve()
}
