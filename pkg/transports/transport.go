package transports

import (
	"context"

	"github.com/satriadp/lisan/pkg/session"
)

// Transport accepts duplex connections and binds each one to a session.
// Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// SessionFactory builds the session for a fresh connection. The sender
// is the outbound half of that connection.
type SessionFactory func(id string, send session.Sender) *session.Session

// ReadyReporter optionally exposes readiness metadata for logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
