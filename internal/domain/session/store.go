package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no active session matches
	ErrNotFound = errors.New("session not found")
	// ErrStaleRefresh is returned by Rotate when the row no longer carries the
	// refresh id the caller validated, i.e. another refresh won the race
	ErrStaleRefresh = errors.New("session refresh id changed")
	// ErrDuplicateRefreshID is returned when a new row reuses a refresh id
	ErrDuplicateRefreshID = errors.New("refresh id already in use")
)

// Store persists sessions. Implementations must make Rotate a single atomic
// conditional write.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindByRefreshID(ctx context.Context, refreshID string) (*Session, error)
	FindByAccessID(ctx context.Context, accessID string) (*Session, error)
	Rotate(ctx context.Context, sess *Session, rot Rotation, expectedRefreshID string) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error
	DeactivateAll(ctx context.Context, userID string, except *uuid.UUID, at time.Time) (int64, error)
	ListActive(ctx context.Context, userID string) ([]Session, error)
	History(ctx context.Context, userID string) (*History, error)
}

// applyRotation mirrors a successful conditional update onto the in-memory copy
func applyRotation(sess *Session, rot Rotation) {
	sess.AccessID = rot.AccessID
	sess.RefreshID = rot.RefreshID
	sess.AccessExpiresAt = rot.AccessExpiresAt
	sess.RefreshExpiresAt = rot.RefreshExpiresAt
	sess.LastActiveAt = rot.At
	sess.UpdatedAt = rot.At
	sess.TotalLogins++
	if rot.IP != "" {
		sess.IPAddress = rot.IP
	}
}
