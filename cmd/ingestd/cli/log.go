package cli

import (
	"log"
	"os"

	"github.com/rs/zerolog"
)

// stdout and stderr carry plain startup/shutdown messages, in the
// style tusd's CLI used before it grew structured logging; NewLogger
// builds the structured zerolog.Logger the protocol engine itself logs
// through.
var stdout = log.New(os.Stdout, "[ingestd] ", log.LstdFlags)
var stderr = log.New(os.Stderr, "[ingestd] ", log.LstdFlags)

// NewLogger builds the logger passed to handler.Config.Logger, honoring
// the -verbose flag set in ParseFlags.
func NewLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if Flags.VerboseOutput {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).Level(level).With().Timestamp().Logger()
}
