package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/driftchat/drift/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrSelfPair is returned when a pairing names the same user on both sides.
// The matcher makes this unreachable; the check here is an invariant guard.
var ErrSelfPair = errors.New("cannot pair a user with themselves")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'idle',
		partner_id TEXT,
		pair_id TEXT,
		gender TEXT,
		age INTEGER,
		joined_at INTEGER NOT NULL,
		waiting_since INTEGER,
		session_started_at INTEGER,
		messages_sent INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_waiting ON sessions(waiting_since) WHERE state = 'waiting';

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sessionColumns = `user_id, state, partner_id, pair_id, gender, age,
	joined_at, waiting_since, session_started_at, messages_sent, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.UserSession, error) {
	var sess domain.UserSession
	var state string
	var partnerID, pairID, gender sql.NullString
	var age, waitingSince, startedAt sql.NullInt64
	var joinedAt, updatedAt int64

	err := row.Scan(
		&sess.UserID, &state, &partnerID, &pairID, &gender, &age,
		&joinedAt, &waitingSince, &startedAt, &sess.MessagesSent, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.State = domain.State(state)
	sess.PartnerID = partnerID.String
	sess.PairID = pairID.String
	sess.Gender = gender.String
	sess.Age = int(age.Int64)
	sess.JoinedAt = time.Unix(joinedAt, 0)
	if waitingSince.Valid {
		// waiting_since is stored at nanosecond resolution so FIFO order
		// survives restarts without same-second ties.
		sess.WaitingSince = time.Unix(0, waitingSince.Int64)
	}
	if startedAt.Valid {
		sess.SessionStartedAt = time.Unix(startedAt.Int64, 0)
	}
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// GetSession retrieves a session by user ID.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.UserSession) error {
	query := `
	INSERT INTO sessions (user_id, state, partner_id, pair_id, gender, age,
		joined_at, waiting_since, session_started_at, messages_sent, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state = excluded.state,
		partner_id = excluded.partner_id,
		pair_id = excluded.pair_id,
		gender = excluded.gender,
		age = excluded.age,
		waiting_since = excluded.waiting_since,
		session_started_at = excluded.session_started_at,
		messages_sent = excluded.messages_sent,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.UserID, string(sess.State),
		nullString(sess.PartnerID), nullString(sess.PairID),
		nullString(sess.Gender), nullInt(int64(sess.Age)),
		sess.JoinedAt.Unix(), nullTimeNano(sess.WaitingSince), nullTime(sess.SessionStartedAt),
		sess.MessagesSent, sess.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SetPaired transactionally pairs two sessions with each other.
func (s *SQLiteStore) SetPaired(ctx context.Context, aID, bID, pairID string, startedAt time.Time) error {
	if aID == bID {
		return ErrSelfPair
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pairing tx: %w", err)
	}
	defer rollback(tx)

	query := `
	UPDATE sessions SET state = 'paired', partner_id = ?, pair_id = ?,
		waiting_since = NULL, session_started_at = ?, messages_sent = 0, updated_at = ?
	WHERE user_id = ?`
	now := time.Now().Unix()

	for _, pair := range [][2]string{{aID, bID}, {bID, aID}} {
		res, execErr := tx.ExecContext(ctx, query, pair[1], pairID, startedAt.Unix(), now, pair[0])
		if execErr != nil {
			return fmt.Errorf("pair %s with %s: %w", pair[0], pair[1], execErr)
		}
		rows, raErr := res.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("get rows affected: %w", raErr)
		}
		if rows == 0 {
			return fmt.Errorf("pair %s with %s: user not found", pair[0], pair[1])
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pairing tx: %w", err)
	}
	return nil
}

// EndPair transactionally resets both sessions to idle.
func (s *SQLiteStore) EndPair(ctx context.Context, aID, bID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unpair tx: %w", err)
	}
	defer rollback(tx)

	query := `
	UPDATE sessions SET state = 'idle', partner_id = NULL, pair_id = NULL,
		waiting_since = NULL, session_started_at = NULL, messages_sent = 0, updated_at = ?
	WHERE user_id IN (?, ?)`
	if _, err := tx.ExecContext(ctx, query, time.Now().Unix(), aID, bID); err != nil {
		return fmt.Errorf("unpair %s and %s: %w", aID, bID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unpair tx: %w", err)
	}
	return nil
}

// ClearPairing resets a single session to idle.
func (s *SQLiteStore) ClearPairing(ctx context.Context, userID string) error {
	query := `
	UPDATE sessions SET state = 'idle', partner_id = NULL, pair_id = NULL,
		waiting_since = NULL, session_started_at = NULL, messages_sent = 0, updated_at = ?
	WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().Unix(), userID); err != nil {
		return fmt.Errorf("clear pairing: %w", err)
	}
	return nil
}

// IncrementMessagesSent bumps the per-pairing message counter.
func (s *SQLiteStore) IncrementMessagesSent(ctx context.Context, userID string) error {
	// Guarded on state so a concurrent session end cannot leave a stray
	// count on an idle row.
	query := `UPDATE sessions SET messages_sent = messages_sent + 1, updated_at = ? WHERE user_id = ? AND state = 'paired'`
	result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("increment messages_sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("IncrementMessagesSent affected 0 rows", "user_id", userID)
	}
	return nil
}

// WaitingSessions returns waiting sessions ordered by waiting_since ascending.
func (s *SQLiteStore) WaitingSessions(ctx context.Context) ([]*domain.UserSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions WHERE state = 'waiting' ORDER BY waiting_since ASC`
	return s.querySessions(ctx, query)
}

// ListSessions returns all known sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY joined_at ASC`
	return s.querySessions(ctx, query)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.UserSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.UserSession
	for rows.Next() {
		sess, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session row: %w", scanErr)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// RecordMessage appends a relayed message to the chat log.
func (s *SQLiteStore) RecordMessage(ctx context.Context, msg *domain.Message) error {
	query := `
	INSERT INTO messages (pair_id, sender_id, receiver_id, body, sent_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.PairID, msg.SenderID, msg.ReceiverID, msg.Body, msg.SentAt.Unix())
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]*domain.Message, error) {
	query := `
	SELECT id, pair_id, sender_id, receiver_id, body, sent_at
	FROM messages ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var sentAt int64
		if err := rows.Scan(&msg.ID, &msg.PairID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SentAt = time.Unix(sentAt, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CountSessions returns the number of known users.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sessions`)
}

// CountMessages returns the number of logged messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM messages`)
}

// CountByState returns the number of sessions in the given state.
func (s *SQLiteStore) CountByState(ctx context.Context, state domain.State) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sessions WHERE state = ?`, string(state))
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("failed to rollback transaction", "error", err)
	}
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func nullTimeNano(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
