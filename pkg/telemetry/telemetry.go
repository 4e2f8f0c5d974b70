// Package telemetry wires error tracking for the fetcher. Only unexpected
// failures — provider 5xx, network errors, internal inconsistencies — are
// reported; routine 4xx rejections from anti-bot layers are not.
package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init initializes the Sentry SDK once at process startup. An empty dsn
// disables reporting entirely, which is the normal local-development setup.
func Init(dsn, release string) error {
	env := os.Getenv("TEECLUB_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "[telemetry] SENTRY_DSN not set, error tracking disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
		Tags: map[string]string{
			"service": "tee-times-fetcher",
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// Flush waits for buffered events before process exit.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// SentryTracker satisfies the providers.ErrorTracker interface.
type SentryTracker struct{}

// CaptureError reports an error with context tags (course name, URL). Safe to
// call when Sentry was never initialized.
func (SentryTracker) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}
