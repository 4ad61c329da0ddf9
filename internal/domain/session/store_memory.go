package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for tests and single-node development.
// It enforces the same unique refresh id and conditional rotate rules as the
// database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Session)}
}

func (m *MemoryStore) Create(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	for _, s := range m.sessions {
		if s.RefreshID == sess.RefreshID {
			return ErrDuplicateRefreshID
		}
	}
	if sess.LoginIP == "" {
		sess.LoginIP = sess.IPAddress
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) find(match func(*Session) bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*Session, error) {
	return m.find(func(s *Session) bool { return s.ID == id })
}

func (m *MemoryStore) FindByRefreshID(_ context.Context, refreshID string) (*Session, error) {
	return m.find(func(s *Session) bool { return s.IsActive && s.RefreshID == refreshID })
}

func (m *MemoryStore) FindByAccessID(_ context.Context, accessID string) (*Session, error) {
	return m.find(func(s *Session) bool { return s.IsActive && s.AccessID == accessID })
}

func (m *MemoryStore) Rotate(_ context.Context, sess *Session, rot Rotation, expectedRefreshID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[sess.ID]
	if !ok || !stored.IsActive || stored.RefreshID != expectedRefreshID {
		return ErrStaleRefresh
	}

	applyRotation(stored, rot)
	*sess = *stored
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && s.IsActive {
		s.LastActiveAt = at
	}
	return nil
}

func (m *MemoryStore) Deactivate(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && s.IsActive {
		deactivate(s, at)
	}
	return nil
}

func (m *MemoryStore) DeactivateAll(_ context.Context, userID string, except *uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, s := range m.sessions {
		if s.UserID != userID || !s.IsActive || (except != nil && s.ID == *except) {
			continue
		}
		deactivate(s, at)
		n++
	}
	return n, nil
}

func (m *MemoryStore) ListActive(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *MemoryStore) History(_ context.Context, userID string) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := newHistory()
	for _, s := range m.sessions {
		if s.UserID == userID {
			h.add(s.Fingerprint, s.CreatedAt, s.TotalLogins, s.LoginIP, s.IPAddress)
		}
	}
	return h, nil
}

func deactivate(s *Session, at time.Time) {
	s.IsActive = false
	s.DeactivatedAt = &at
	s.UpdatedAt = at
}
