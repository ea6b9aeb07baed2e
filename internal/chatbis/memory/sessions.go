// Package memory persists conversation history. Every session is an
// append-only log of turns keyed by a UUID session id; the working set the
// conversation engine sees is a bounded view over that log, never a
// truncation of it.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWorkingSetSize is the number of most recent turns handed to the
// conversation engine when composing a reply.
const DefaultWorkingSetSize = 20

// ErrSessionNotFound is returned when a session id has no row in the
// sessions table.
var ErrSessionNotFound = errors.New("memory: session not found")

// ErrInvalidSessionID is returned when a supplied session id is not a
// UUID. Only Resume validates ids; internally minted ids always parse.
var ErrInvalidSessionID = errors.New("memory: invalid session id")

// Turn is a single message in a session, either side of the exchange.
type Turn struct {
	Seq       int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// Session identifies one conversation log.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// SessionStoreConfig holds configuration for the SessionStore.
type SessionStoreConfig struct {
	// WorkingSetSize is the number of most recent turns returned by
	// WorkingSet. Default: DefaultWorkingSetSize.
	WorkingSetSize int

	// Now returns the current time. Defaults to time.Now; overridable in
	// tests.
	Now func() time.Time

	// NewID mints session ids. Defaults to random UUIDs; overridable in
	// tests.
	NewID func() string
}

// SessionStore reads and writes conversation sessions. It is safe for
// concurrent use; writes are serialized by the single shared SQLite
// connection.
type SessionStore struct {
	db             *sql.DB
	workingSetSize int
	now            func() time.Time
	newID          func() string
}

// NewSessionStore creates a SessionStore on top of an opened database.
func NewSessionStore(db *sql.DB, cfg SessionStoreConfig) *SessionStore {
	if cfg.WorkingSetSize <= 0 {
		cfg.WorkingSetSize = DefaultWorkingSetSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &SessionStore{
		db:             db,
		workingSetSize: cfg.WorkingSetSize,
		now:            cfg.Now,
		newID:          cfg.NewID,
	}
}

// WorkingSetSize returns the configured working-set bound.
func (s *SessionStore) WorkingSetSize() int {
	return s.workingSetSize
}

// Create starts a new empty session.
func (s *SessionStore) Create(ctx context.Context) (Session, error) {
	return s.insertSession(ctx, s.newID())
}

// Resume returns the session with the given id. An unknown id is adopted as
// a fresh empty session, so a client that kept its id across a server wipe
// can keep talking without an error.
func (s *SessionStore) Resume(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	var created string
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM sessions WHERE id = ?", id).Scan(&created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertSession(ctx, id)
	case err != nil:
		return Session{}, fmt.Errorf("memory: resume session %s: %w", id, err)
	}

	at, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Session{}, fmt.Errorf("memory: parse session timestamp: %w", err)
	}
	return Session{ID: id, CreatedAt: at}, nil
}

// Clear starts a fresh session and returns it. The old session's turns are
// never deleted; they just stop being consulted.
func (s *SessionStore) Clear(ctx context.Context) (Session, error) {
	return s.Create(ctx)
}

// Append records a single turn at the end of a session's log.
func (s *SessionStore) Append(ctx context.Context, sessionID, role, content string) (Turn, error) {
	if err := validRole(role); err != nil {
		return Turn{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("memory: begin append: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, sessionID); err != nil {
		return Turn{}, err
	}
	turn, err := s.appendTurn(ctx, tx, sessionID, role, content)
	if err != nil {
		return Turn{}, err
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("memory: commit append: %w", err)
	}
	return turn, nil
}

// AppendExchange records a user message and the assistant's reply as one
// atomic write, so a failure between the two never leaves a dangling turn.
func (s *SessionStore) AppendExchange(ctx context.Context, sessionID, userContent, assistantContent string) (user, assistant Turn, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, Turn{}, fmt.Errorf("memory: begin exchange: %w", err)
	}
	defer tx.Rollback()

	if err := sessionExists(ctx, tx, sessionID); err != nil {
		return Turn{}, Turn{}, err
	}
	if user, err = s.appendTurn(ctx, tx, sessionID, RoleUser, userContent); err != nil {
		return Turn{}, Turn{}, err
	}
	if assistant, err = s.appendTurn(ctx, tx, sessionID, RoleAssistant, assistantContent); err != nil {
		return Turn{}, Turn{}, err
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, Turn{}, fmt.Errorf("memory: commit exchange: %w", err)
	}
	return user, assistant, nil
}

// History returns every turn of a session, oldest first.
func (s *SessionStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory: read history %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// WorkingSet returns the most recent turns of a session, oldest first,
// bounded by the configured working-set size. The full log stays on disk
// untouched.
func (s *SessionStore) WorkingSet(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?",
		sessionID, s.workingSetSize)
	if err != nil {
		return nil, fmt.Errorf("memory: read working set %s: %w", sessionID, err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TurnCount returns the total number of turns recorded for a session.
func (s *SessionStore) TurnCount(ctx context.Context, sessionID string) (int, error) {
	if err := s.exists(ctx, sessionID); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turns WHERE session_id = ?", sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("memory: count turns %s: %w", sessionID, err)
	}
	return count, nil
}

func (s *SessionStore) insertSession(ctx context.Context, id string) (Session, error) {
	sess := Session{ID: id, CreatedAt: s.now().UTC()}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, created_at) VALUES (?, ?)",
		sess.ID, sess.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return Session{}, fmt.Errorf("memory: create session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SessionStore) exists(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("memory: session %s: %w", sessionID, ErrSessionNotFound)
	case err != nil:
		return fmt.Errorf("memory: look up session %s: %w", sessionID, err)
	}
	return nil
}

func sessionExists(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("memory: session %s: %w", sessionID, ErrSessionNotFound)
	case err != nil:
		return fmt.Errorf("memory: look up session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SessionStore) appendTurn(ctx context.Context, tx *sql.Tx, sessionID, role, content string) (Turn, error) {
	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?", sessionID).Scan(&seq); err != nil {
		return Turn{}, fmt.Errorf("memory: next seq for %s: %w", sessionID, err)
	}

	at := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, seq, role, content, at.Format(time.RFC3339Nano)); err != nil {
		return Turn{}, fmt.Errorf("memory: append turn %d to %s: %w", seq, sessionID, err)
	}

	return Turn{Seq: seq, Role: role, Content: content, CreatedAt: at}, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("memory: scan turn: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("memory: parse turn timestamp: %w", err)
		}
		t.CreatedAt = at
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate turns: %w", err)
	}
	return turns, nil
}

func validRole(role string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("memory: invalid role %q", role)
	}
	return nil
}
