package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftchat/drift/internal/domain"
	"github.com/driftchat/drift/internal/shared"
	"github.com/driftchat/drift/internal/store"
)

// EventKind classifies an outbound notification to a user.
type EventKind string

const (
	// EventMatched tells a user they have been paired with a stranger.
	EventMatched EventKind = "matched"
	// EventMessage carries a relayed chat message.
	EventMessage EventKind = "message"
	// EventTyping signals that the partner is typing.
	EventTyping EventKind = "typing"
	// EventPartnerLeft tells a user their partner ended the chat or left.
	EventPartnerLeft EventKind = "partner_left"
)

// Event is an outbound notification delivered through a Sender.
type Event struct {
	Kind EventKind
	Body string
}

// Sender delivers events to users. Send returns ErrUnreachable (possibly
// wrapped) when the recipient cannot be reached.
type Sender interface {
	Send(ctx context.Context, userID string, ev Event) error
}

// FindResult is the outcome of a partner search.
type FindResult struct {
	// Matched is true if a partner was found; false means the caller is
	// now waiting in the pool.
	Matched bool
	// PairID identifies the new pairing when Matched is true.
	PairID string
}

// Service owns every session state transition: matching, relay and
// lifecycle. All pairing reads-then-writes happen under a single mutex so
// concurrent calls never claim the same candidate or tear a pairing down
// twice.
type Service struct {
	mu     sync.Mutex
	repo   store.Repository
	pool   Pool
	sender Sender
	logger *slog.Logger
}

// NewService creates the chat service.
func NewService(repo store.Repository, pool Pool, sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		pool:   pool,
		sender: sender,
		logger: logger,
	}
}

// EnsureSession creates an idle session for userID on first contact.
// Returns the current session either way.
func (s *Service) EnsureSession(ctx context.Context, userID string) (*domain.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSessionLocked(ctx, userID)
}

func (s *Service) ensureSessionLocked(ctx context.Context, userID string) (*domain.UserSession, error) {
	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess != nil {
		return sess, nil
	}

	now := time.Now()
	sess = &domain.UserSession{
		UserID:    userID,
		State:     domain.StateIdle,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "user_id", userID)
	return sess, nil
}

// Find pairs the caller with the longest-waiting candidate, or enqueues
// them. Returns ErrAlreadyPaired if the caller is in a chat. Calling Find
// while already waiting is idempotent.
func (s *Service) Find(ctx context.Context, userID string) (FindResult, error) {
	s.mu.Lock()

	sess, err := s.ensureSessionLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return FindResult{}, err
	}
	if sess.IsPaired() {
		s.mu.Unlock()
		return FindResult{}, ErrAlreadyPaired
	}

	candidate, err := s.claimCandidateLocked(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return FindResult{}, err
	}

	if candidate == nil {
		res, waitErr := s.enqueueLocked(ctx, sess)
		s.mu.Unlock()
		return res, waitErr
	}

	pairID := uuid.NewString()
	startedAt := time.Now()
	if err := s.setPairedWithRetry(ctx, userID, candidate.UserID, pairID, startedAt); err != nil {
		// All-or-nothing: the claimed candidate goes back into the pool.
		if reErr := s.pool.Enqueue(ctx, candidate.UserID, candidate.WaitingSince); reErr != nil {
			s.logger.Error("failed to restore candidate after pairing failure",
				"user_id", candidate.UserID, "error", reErr)
		}
		s.mu.Unlock()
		return FindResult{}, fmt.Errorf("pair sessions: %w", err)
	}

	// The caller may have been waiting themselves; drop any stale entry.
	if err := s.pool.Remove(ctx, userID); err != nil {
		s.logger.Warn("failed to remove caller from pool after match", "user_id", userID, "error", err)
	}

	s.mu.Unlock()

	s.logger.Info("pair created", "pair_id", pairID, "user_id", userID, "partner_id", candidate.UserID)
	s.notify(ctx, userID, Event{Kind: EventMatched})
	s.notify(ctx, candidate.UserID, Event{Kind: EventMatched})

	return FindResult{Matched: true, PairID: pairID}, nil
}

// claimCandidateLocked dequeues pool entries until one is confirmed waiting
// in the store. Stale entries (left behind by a restart with the Redis pool,
// or by a user who went idle) are discarded.
func (s *Service) claimCandidateLocked(ctx context.Context, excluding string) (*domain.UserSession, error) {
	for {
		candidateID, since, ok, err := s.pool.DequeueCandidate(ctx, excluding)
		if err != nil {
			return nil, fmt.Errorf("dequeue candidate: %w", err)
		}
		if !ok {
			return nil, nil
		}

		candidate, err := s.repo.GetSession(ctx, candidateID)
		if err != nil {
			// Storage failure: restore the entry at its original position
			// so nobody is lost or pushed to the back.
			if reErr := s.pool.Enqueue(ctx, candidateID, since); reErr != nil {
				s.logger.Error("failed to restore candidate after storage error",
					"user_id", candidateID, "error", reErr)
			}
			return nil, fmt.Errorf("validate candidate: %w", err)
		}
		if candidate == nil || !candidate.IsWaiting() {
			s.logger.Debug("discarding stale pool entry", "user_id", candidateID)
			continue
		}
		return candidate, nil
	}
}

func (s *Service) enqueueLocked(ctx context.Context, sess *domain.UserSession) (FindResult, error) {
	if !sess.IsWaiting() {
		sess.State = domain.StateWaiting
		sess.PartnerID = ""
		sess.PairID = ""
		sess.WaitingSince = time.Now()
		sess.UpdatedAt = time.Now()
		if err := s.repo.UpsertSession(ctx, sess); err != nil {
			return FindResult{}, fmt.Errorf("mark session waiting: %w", err)
		}
	}
	if err := s.pool.Enqueue(ctx, sess.UserID, sess.WaitingSince); err != nil {
		return FindResult{}, fmt.Errorf("enqueue: %w", err)
	}
	return FindResult{Matched: false}, nil
}

// setPairedWithRetry retries the pairing transaction on SQLite busy/locked
// errors with exponential backoff.
func (s *Service) setPairedWithRetry(ctx context.Context, aID, bID, pairID string, startedAt time.Time) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.repo.SetPaired(ctx, aID, bID, pairID, startedAt)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		delay := baseDelay * time.Duration(1<<i)
		s.logger.Debug("database busy during pairing, retrying",
			"user_id", aID, "attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return err
}

// Cancel removes a waiting caller from the pool and returns them to idle.
// Returns false if the caller was not waiting; in particular, a cancel that
// races with being matched loses to the match and is a no-op.
func (s *Service) Cancel(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.IsWaiting() {
		return false, nil
	}

	if err := s.pool.Remove(ctx, userID); err != nil {
		return false, fmt.Errorf("leave pool: %w", err)
	}
	if err := s.repo.ClearPairing(ctx, userID); err != nil {
		return false, fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("search cancelled", "user_id", userID)
	return true, nil
}

// Deliver relays a message from a paired user to their partner. A transport
// failure tears the pairing down on both sides and surfaces as
// ErrPartnerUnreachable; delivery is never retried automatically.
func (s *Service) Deliver(ctx context.Context, fromID, body string) error {
	sess, err := s.repo.GetSession(ctx, fromID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.IsPaired() {
		return ErrNotConnected
	}
	partnerID, pairID := sess.PartnerID, sess.PairID

	if err := s.sender.Send(ctx, partnerID, Event{Kind: EventMessage, Body: body}); err != nil {
		if errors.Is(err, ErrUnreachable) {
			s.logger.Info("partner unreachable, ending pair",
				"pair_id", pairID, "user_id", fromID, "partner_id", partnerID)
			s.teardownPair(ctx, fromID, partnerID, pairID)
			return ErrPartnerUnreachable
		}
		return fmt.Errorf("deliver message: %w", err)
	}

	if err := s.repo.IncrementMessagesSent(ctx, fromID); err != nil {
		s.logger.Warn("failed to count delivered message", "user_id", fromID, "error", err)
	}
	msg := &domain.Message{
		PairID:     pairID,
		SenderID:   fromID,
		ReceiverID: partnerID,
		Body:       body,
		SentAt:     time.Now(),
	}
	if err := s.repo.RecordMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to log delivered message", "user_id", fromID, "error", err)
	}
	return nil
}

// Typing forwards a typing signal to the partner. Best-effort: an
// unreachable partner does not end the chat here, only a failed message
// delivery does.
func (s *Service) Typing(ctx context.Context, fromID string) error {
	sess, err := s.repo.GetSession(ctx, fromID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.IsPaired() {
		return ErrNotConnected
	}
	if err := s.sender.Send(ctx, sess.PartnerID, Event{Kind: EventTyping}); err != nil {
		s.logger.Debug("typing signal not delivered", "user_id", fromID, "error", err)
	}
	return nil
}

// End terminates the caller's pairing, returning a summary of the chat.
// Both sides go back to idle; the partner is notified. Returns ErrNotInChat
// if the caller is not paired, including on a repeated End.
func (s *Service) End(ctx context.Context, userID string) (*domain.PairSummary, error) {
	s.mu.Lock()

	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.IsPaired() {
		s.mu.Unlock()
		return nil, ErrNotInChat
	}

	partnerID := sess.PartnerID
	summary := &domain.PairSummary{
		PairID:        sess.PairID,
		Duration:      sess.ChatDuration(time.Now()),
		MessagesTotal: sess.MessagesSent,
	}
	partner, err := s.repo.GetSession(ctx, partnerID)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("load partner session: %w", err)
	}
	if partner != nil {
		summary.MessagesTotal += partner.MessagesSent
	}

	if err := s.repo.EndPair(ctx, userID, partnerID); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("end pair: %w", err)
	}

	s.mu.Unlock()

	s.logger.Info("pair ended", "pair_id", summary.PairID, "user_id", userID,
		"partner_id", partnerID, "duration", summary.Duration, "messages", summary.MessagesTotal)
	s.notify(ctx, partnerID, Event{Kind: EventPartnerLeft})

	return summary, nil
}

// Disconnect handles a user dropping off entirely: they leave the pool if
// waiting and their pairing, if any, is torn down with the partner notified.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	s.mu.Lock()

	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		s.mu.Unlock()
		return nil
	}

	if err := s.pool.Remove(ctx, userID); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("leave pool: %w", err)
	}

	var partnerID string
	if sess.IsPaired() {
		partnerID = sess.PartnerID
		if err := s.repo.EndPair(ctx, userID, partnerID); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("end pair: %w", err)
		}
	} else if sess.State != domain.StateIdle {
		if err := s.repo.ClearPairing(ctx, userID); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("reset session: %w", err)
		}
	}

	s.mu.Unlock()

	if partnerID != "" {
		s.logger.Info("pair ended by disconnect", "user_id", userID, "partner_id", partnerID)
		s.notify(ctx, partnerID, Event{Kind: EventPartnerLeft})
	}
	return nil
}

// SetProfile stores cosmetic profile fields. Age must be 10-99 when set.
func (s *Service) SetProfile(ctx context.Context, userID, gender string, age int) error {
	if age != 0 && (age < 10 || age > 99) {
		return fmt.Errorf("age must be between 10 and 99")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.ensureSessionLocked(ctx, userID)
	if err != nil {
		return err
	}
	if gender != "" {
		sess.Gender = gender
	}
	if age != 0 {
		sess.Age = age
	}
	sess.UpdatedAt = time.Now()
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Rebuild refills the waiting pool from the store after a restart,
// preserving FIFO order.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting, err := s.repo.WaitingSessions(ctx)
	if err != nil {
		return fmt.Errorf("load waiting sessions: %w", err)
	}
	for _, sess := range waiting {
		if err := s.pool.Enqueue(ctx, sess.UserID, sess.WaitingSince); err != nil {
			return fmt.Errorf("restore %s to pool: %w", sess.UserID, err)
		}
	}
	if len(waiting) > 0 {
		s.logger.Info("waiting pool rebuilt", "entries", len(waiting))
	}
	return nil
}

// WaitingCount returns the current pool size.
func (s *Service) WaitingCount(ctx context.Context) (int, error) {
	return s.pool.Len(ctx)
}

// teardownPair resets both sides to idle if the pairing is still the one
// the caller observed. A pairing already replaced or ended is left alone.
func (s *Service) teardownPair(ctx context.Context, aID, bID, pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.repo.GetSession(ctx, aID)
	if err != nil {
		s.logger.Error("failed to re-check pairing before teardown", "user_id", aID, "error", err)
		return
	}
	if sess == nil || !sess.IsPaired() || sess.PartnerID != bID || sess.PairID != pairID {
		return
	}
	if err := s.repo.EndPair(ctx, aID, bID); err != nil {
		s.logger.Error("failed to tear down pair", "pair_id", pairID, "error", err)
	}
}

// notify sends a lifecycle event, logging but otherwise ignoring failures.
func (s *Service) notify(ctx context.Context, userID string, ev Event) {
	if err := s.sender.Send(ctx, userID, ev); err != nil {
		s.logger.Debug("notification not delivered", "user_id", userID, "kind", ev.Kind, "error", err)
	}
}
