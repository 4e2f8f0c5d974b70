// Package logging builds the shared structured logger used by every
// component of the fetcher.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logrus entry pre-configured for a named component.
// Output is JSON to stdout; level comes from LOG_LEVEL (default info). The
// component field rides along on every line.
func NewLogger(component string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(os.Stdout)

	levelStr := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log.WithField("component", component)
}
