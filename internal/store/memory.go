package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftchat/drift/internal/domain"
)

// MemoryStore implements Repository in memory. Used by tests and when no
// database path is configured.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.UserSession
	messages  []*domain.Message
	msgIDNext int64
}

var _ Repository = (*MemoryStore)(nil)

// NewMemory creates a new in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.UserSession),
	}
}

func (m *MemoryStore) clone(sess *domain.UserSession) *domain.UserSession {
	cp := *sess
	return &cp
}

// GetSession retrieves a session by user ID.
func (m *MemoryStore) GetSession(_ context.Context, userID string) (*domain.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return m.clone(sess), nil
}

// UpsertSession creates or updates a session record.
func (m *MemoryStore) UpsertSession(_ context.Context, sess *domain.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.UserID] = m.clone(sess)
	return nil
}

// SetPaired marks both sessions as paired with each other.
func (m *MemoryStore) SetPaired(_ context.Context, aID, bID, pairID string, startedAt time.Time) error {
	if aID == bID {
		return ErrSelfPair
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, okA := m.sessions[aID]
	b, okB := m.sessions[bID]
	if !okA {
		return fmt.Errorf("pair %s with %s: user not found", aID, bID)
	}
	if !okB {
		return fmt.Errorf("pair %s with %s: user not found", bID, aID)
	}

	now := time.Now()
	for _, side := range [][2]*domain.UserSession{{a, b}, {b, a}} {
		sess, partner := side[0], side[1]
		sess.State = domain.StatePaired
		sess.PartnerID = partner.UserID
		sess.PairID = pairID
		sess.WaitingSince = time.Time{}
		sess.SessionStartedAt = startedAt
		sess.MessagesSent = 0
		sess.UpdatedAt = now
	}
	return nil
}

// EndPair resets both sessions to idle.
func (m *MemoryStore) EndPair(_ context.Context, aID, bID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(aID)
	m.resetLocked(bID)
	return nil
}

// ClearPairing resets a single session to idle.
func (m *MemoryStore) ClearPairing(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(userID)
	return nil
}

func (m *MemoryStore) resetLocked(userID string) {
	sess, ok := m.sessions[userID]
	if !ok {
		return
	}
	sess.State = domain.StateIdle
	sess.PartnerID = ""
	sess.PairID = ""
	sess.WaitingSince = time.Time{}
	sess.SessionStartedAt = time.Time{}
	sess.MessagesSent = 0
	sess.UpdatedAt = time.Now()
}

// IncrementMessagesSent bumps the per-pairing message counter.
func (m *MemoryStore) IncrementMessagesSent(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[userID]; ok && sess.State == domain.StatePaired {
		sess.MessagesSent++
		sess.UpdatedAt = time.Now()
	}
	return nil
}

// WaitingSessions returns waiting sessions ordered by waiting_since ascending.
func (m *MemoryStore) WaitingSessions(_ context.Context) ([]*domain.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var waiting []*domain.UserSession
	for _, sess := range m.sessions {
		if sess.State == domain.StateWaiting {
			waiting = append(waiting, m.clone(sess))
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].WaitingSince.Before(waiting[j].WaitingSince)
	})
	return waiting, nil
}

// ListSessions returns all known sessions.
func (m *MemoryStore) ListSessions(_ context.Context) ([]*domain.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]*domain.UserSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, m.clone(sess))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
	})
	return sessions, nil
}

// RecordMessage appends a relayed message to the chat log.
func (m *MemoryStore) RecordMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.msgIDNext++
	cp := *msg
	cp.ID = m.msgIDNext
	m.messages = append(m.messages, &cp)
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (m *MemoryStore) RecentMessages(_ context.Context, limit int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var msgs []*domain.Message
	for i := len(m.messages) - 1; i >= 0 && len(msgs) < limit; i-- {
		cp := *m.messages[i]
		msgs = append(msgs, &cp)
	}
	return msgs, nil
}

// CountSessions returns the number of known users.
func (m *MemoryStore) CountSessions(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sessions)), nil
}

// CountMessages returns the number of logged messages.
func (m *MemoryStore) CountMessages(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages)), nil
}

// CountByState returns the number of sessions in the given state.
func (m *MemoryStore) CountByState(_ context.Context, state domain.State) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, sess := range m.sessions {
		if sess.State == state {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
