// Package history records executed cells in SQLite, grouped into kernel
// sessions, and serves them back for history requests.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status values stored with each entry.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	ErrNotOpen      = errors.New("history: database not opened")
	ErrNoSession    = errors.New("history: no session started")
	ErrUnknownRange = errors.New("history: session out of range")
)

// Entry is one executed cell.
type Entry struct {
	Session   int64
	Line      int
	Source    string
	Status    string
	CreatedAt time.Time
}

// Session is one kernel run.
type Session struct {
	ID            int64
	KernelSession string
	StartedAt     time.Time
	EndedAt       *time.Time
	Commands      int
}

// SQLiteStore is the history store.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	session int64
}

// NewSQLiteStore creates a new, unopened store.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close ends the current session, if any, and closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	var endErr error
	if s.session != 0 {
		endErr = s.EndSession(context.Background())
	}
	return errors.Join(endErr, s.db.Close())
}

// Path returns the database path given to Open.
func (s *SQLiteStore) Path() string {
	return s.path
}

// BeginSession starts a new numbered session for the kernel session id.
// An empty id gets a fresh one.
func (s *SQLiteStore) BeginSession(ctx context.Context, kernelSession string) (int64, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	if kernelSession == "" {
		kernelSession = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (kernel_session, started_at) VALUES (?, ?)`,
		kernelSession, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to begin session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}
	s.session = id
	return id, nil
}

// EndSession stamps the end time of the current session.
func (s *SQLiteStore) EndSession(ctx context.Context) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if s.session == 0 {
		return ErrNoSession
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session = ?`,
		time.Now().UTC(), s.session,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	s.session = 0
	return nil
}

// CurrentSession returns the number of the running session, or 0.
func (s *SQLiteStore) CurrentSession() int64 {
	return s.session
}

// Record stores one executed cell in the current session.
func (s *SQLiteStore) Record(ctx context.Context, line int, source string, ok bool) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if s.session == 0 {
		return ErrNoSession
	}

	status := StatusOK
	if !ok {
		status = StatusError
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO history (session, line, source, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.session, line, source, status, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record line %d: %w", line, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET num_cmds = (SELECT COUNT(*) FROM history WHERE session = ?) WHERE session = ?`,
		s.session, s.session,
	); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return tx.Commit()
}

// Tail returns the last n entries across all sessions, oldest first.
func (s *SQLiteStore) Tail(ctx context.Context, n int) ([]Entry, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if n <= 0 {
		return []Entry{}, nil
	}

	return s.query(ctx,
		`SELECT session, line, source, status, created_at FROM (
			SELECT session, line, source, status, created_at FROM history
			ORDER BY session DESC, line DESC LIMIT ?
		) ORDER BY session, line`,
		n,
	)
}

// Range returns the entries of one session with start <= line < stop. A
// session of zero or less is relative to the current one: 0 is the current
// session, -1 the one before it. A stop of zero or less means no upper bound.
func (s *SQLiteStore) Range(ctx context.Context, session int64, start, stop int) ([]Entry, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	if session <= 0 {
		if s.session == 0 {
			return nil, ErrNoSession
		}
		session += s.session
		if session <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRange, session)
		}
	}

	if stop <= 0 {
		return s.query(ctx,
			`SELECT session, line, source, status, created_at FROM history
			WHERE session = ? AND line >= ? ORDER BY line`,
			session, start,
		)
	}
	return s.query(ctx,
		`SELECT session, line, source, status, created_at FROM history
		WHERE session = ? AND line >= ? AND line < ? ORDER BY line`,
		session, start, stop,
	)
}

// Sessions lists every recorded session, newest first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]Session, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session, kernel_session, started_at, ended_at, num_cmds FROM sessions ORDER BY session DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var ended sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.KernelSession, &sess.StartedAt, &ended, &sess.Commands); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Session, &e.Line, &e.Source, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
