// Package domain contains core domain types for the drift chat server.
package domain

import (
	"time"
)

// State is the pairing state of a user session.
type State string

const (
	// StateIdle means the user is known but neither waiting nor paired.
	StateIdle State = "idle"
	// StateWaiting means the user is in the waiting pool.
	StateWaiting State = "waiting"
	// StatePaired means the user is in an active chat with PartnerID.
	StatePaired State = "paired"
)

// UserSession is the per-user pairing state record. One exists per known
// user identity; it is reset to idle on session end, never deleted.
type UserSession struct {
	UserID           string    `json:"user_id"`
	State            State     `json:"state"`
	PartnerID        string    `json:"partner_id,omitempty"`
	PairID           string    `json:"pair_id,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	Age              int       `json:"age,omitempty"`
	JoinedAt         time.Time `json:"joined_at"`
	WaitingSince     time.Time `json:"waiting_since,omitempty"`
	SessionStartedAt time.Time `json:"session_started_at,omitempty"`
	MessagesSent     int       `json:"messages_sent"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsPaired returns true if the session has an active partner.
func (s *UserSession) IsPaired() bool {
	return s.State == StatePaired && s.PartnerID != ""
}

// IsWaiting returns true if the session is in the waiting pool.
func (s *UserSession) IsWaiting() bool {
	return s.State == StateWaiting
}

// ChatDuration returns how long the current pairing has been active.
// Returns 0 if the session is not paired.
func (s *UserSession) ChatDuration(now time.Time) time.Duration {
	if !s.IsPaired() || s.SessionStartedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.SessionStartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// PairSummary reports an ended pairing back to the user who ended it.
type PairSummary struct {
	PairID        string        `json:"pair_id"`
	Duration      time.Duration `json:"duration"`
	MessagesTotal int           `json:"messages_total"`
}
