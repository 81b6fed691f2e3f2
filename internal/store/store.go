// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/driftchat/drift/internal/domain"
)

// Repository defines the interface for persisting session and message data.
// It is the single source of truth for pairing state; every method is atomic
// with respect to concurrent callers.
type Repository interface {
	// GetSession retrieves a session by user ID. Returns nil if unknown.
	GetSession(ctx context.Context, userID string) (*domain.UserSession, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.UserSession) error

	// SetPaired transactionally marks both sessions as paired with each
	// other, assigns pairID, resets message counters and sets the session
	// start time. Fails without side effects if aID == bID.
	SetPaired(ctx context.Context, aID, bID, pairID string, startedAt time.Time) error

	// EndPair transactionally resets both sessions to idle.
	EndPair(ctx context.Context, aID, bID string) error

	// ClearPairing resets a single session to idle, clearing partner,
	// pair ID, waiting marker and message counter.
	ClearPairing(ctx context.Context, userID string) error

	// IncrementMessagesSent bumps the per-pairing message counter.
	IncrementMessagesSent(ctx context.Context, userID string) error

	// WaitingSessions returns all waiting sessions ordered by
	// waiting_since ascending. Used to rebuild the pool after a restart.
	WaitingSessions(ctx context.Context) ([]*domain.UserSession, error)

	// RecordMessage appends a relayed message to the chat log.
	RecordMessage(ctx context.Context, msg *domain.Message) error

	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]*domain.Message, error)

	// ListSessions returns all known sessions.
	ListSessions(ctx context.Context) ([]*domain.UserSession, error)

	// CountSessions returns the number of known users.
	CountSessions(ctx context.Context) (int64, error)

	// CountMessages returns the number of logged messages.
	CountMessages(ctx context.Context) (int64, error)

	// CountByState returns the number of sessions in the given state.
	CountByState(ctx context.Context, state domain.State) (int64, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
