// Package build holds the logging plumbing shared by every subsystem: a
// writer that tees log output to stdout and an optional rotating log file,
// and the sublogger constructor packages use from their init functions.
package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// LogWriter writes log output to stdout and, when set, to the write end of
// a log rotator pipe.
type LogWriter struct {
	// RotatorPipe is the write-end pipe for writing to the log rotator.
	// It only needs to be set when file logging is desired.
	RotatorPipe *io.PipeWriter
}

// Write writes the byte slice to both stdout and the rotator pipe if it is
// set.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)

	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(b)
	}

	return len(b), nil
}

// NewSubLogger constructs a new subsystem logger from the given generator.
// If no generator is provided, logging is disabled, which is the default
// for library use until the daemon wires a backend in.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}
