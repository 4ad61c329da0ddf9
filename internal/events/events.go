// Package events carries audit notifications out of the auth core. The core
// only produces events; delivery guarantees belong to the Sink.
package events

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names an audit event. Values double as AMQP routing keys.
type Type string

const (
	LoginSucceeded  Type = "auth.login"
	LoginSuspicious Type = "auth.login.suspicious"
	LoginFailed     Type = "auth.login.failed"
	AccountLocked   Type = "auth.lockout"
	SessionRotated  Type = "auth.session.rotated"
	RefreshReplay   Type = "auth.refresh.replay"
	LoggedOut       Type = "auth.logout"
	LoggedOutAll    Type = "auth.logout.all"
)

// Event is one audit record
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     string            `json:"user_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New stamps an event with a sortable id and the given time
func New(typ Type, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(at), rand.Reader).String(),
		Type:       typ,
		OccurredAt: at,
	}
}

// Sink receives events
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogSink writes events to a structured logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(ctx context.Context, evt Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Audit event",
		"event_id", evt.ID,
		"type", string(evt.Type),
		"user_id", evt.UserID,
		"tenant_id", evt.TenantID,
		"session_id", evt.SessionID,
		"ip", evt.IP,
		"reason", evt.Reason,
	)
	return nil
}

// Multi publishes to every sink and joins their errors
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
