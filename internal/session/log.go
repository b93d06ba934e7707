package session

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the structured logger backing --debug diagnostics,
// mirroring the field-based request logging server/middleware.Logger
// builds with log/slog: one entry per notable event, method/duration/
// status-shaped fields attached with WithFields rather than interpolated
// into the message string.
func NewLogger(debug bool, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(logrus.InfoLevel)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
