// Package chat implements the partner-matching and message-relay engine:
// the waiting pool, the matcher, the relay and the session lifecycle.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Pool is an ordered collection of users seeking a partner. The oldest
// entry is matched first.
type Pool interface {
	// Enqueue adds a user at the position given by since. Idempotent: a
	// user already in the pool keeps their original position.
	Enqueue(ctx context.Context, userID string, since time.Time) error

	// DequeueCandidate removes and returns the oldest entry other than
	// excluding, along with its enqueue time so a failed claim can be
	// restored at the same position. Returns ok=false if no such entry
	// exists. Never returns the excluding user.
	DequeueCandidate(ctx context.Context, excluding string) (userID string, since time.Time, ok bool, err error)

	// Remove deletes a user from the pool. No-op if absent.
	Remove(ctx context.Context, userID string) error

	// Len returns the number of users in the pool.
	Len(ctx context.Context) (int, error)
}

type poolEntry struct {
	userID string
	since  time.Time
}

// MemoryPool is the in-process FIFO pool implementation. Entries are kept
// ordered by since so a restored entry regains its original position.
type MemoryPool struct {
	mu      sync.Mutex
	order   []poolEntry
	members map[string]struct{}
}

var _ Pool = (*MemoryPool)(nil)

// NewMemoryPool creates an empty in-memory pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		members: make(map[string]struct{}),
	}
}

// Enqueue inserts a user at the position given by since, if not already
// present. Entries with equal since keep insertion order.
func (p *MemoryPool) Enqueue(_ context.Context, userID string, since time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.members[userID]; exists {
		return nil
	}
	p.members[userID] = struct{}{}

	i := sort.Search(len(p.order), func(i int) bool {
		return p.order[i].since.After(since)
	})
	p.order = append(p.order, poolEntry{})
	copy(p.order[i+1:], p.order[i:])
	p.order[i] = poolEntry{userID: userID, since: since}
	return nil
}

// DequeueCandidate removes and returns the oldest entry other than excluding.
func (p *MemoryPool) DequeueCandidate(_ context.Context, excluding string) (string, time.Time, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, entry := range p.order {
		if entry.userID == excluding {
			continue
		}
		p.order = append(p.order[:i], p.order[i+1:]...)
		delete(p.members, entry.userID)
		return entry.userID, entry.since, true, nil
	}
	return "", time.Time{}, false, nil
}

// Remove deletes a user from the pool if present.
func (p *MemoryPool) Remove(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.members[userID]; !exists {
		return nil
	}
	delete(p.members, userID)
	for i, entry := range p.order {
		if entry.userID == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of users in the pool.
func (p *MemoryPool) Len(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order), nil
}
