// Package report implements an optional error reporter for a badData
// condition ("logged and propagated"): logging already happens at the call
// site via the standard log package, and this package adds the optional
// "propagated to an external system" half via getsentry/sentry-go, wired
// but never required. A Reporter is a no-op unless a DSN is configured.
package report

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter forwards recovery-time corruption (badData) and other
// unexpected failures to an external error-tracking system.
type Reporter interface {
	Report(err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// New constructs a sentry-backed Reporter. An empty dsn is valid and
// produces a client that discards every event, sentry-go's own behavior
// for an unconfigured DSN, so callers can wire Reporter unconditionally
// and only set a real DSN in environments that want it.
func New(dsn string) (Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		return nil, err
	}
	return &sentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// NewNoop returns a Reporter that discards everything, for callers that
// don't want sentry wired in at all (tests, local development).
func NewNoop() Reporter { return noopReporter{} }

type sentryReporter struct {
	hub *sentry.Hub
}

func (r *sentryReporter) Report(err error, tags map[string]string) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

func (r *sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type noopReporter struct{}

func (noopReporter) Report(error, map[string]string) {}
func (noopReporter) Flush(time.Duration) bool         { return true }
