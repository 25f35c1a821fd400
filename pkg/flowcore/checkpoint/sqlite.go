package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSaver persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteSaver struct {
	IncrementVersions

	db         *sql.DB
	serializer Serializer
	mu         sync.RWMutex
	closed     bool
}

// SQLiteOption configures a SQLiteSaver.
type SQLiteOption func(*SQLiteSaver)

// WithSerializer sets the serializer for checkpoint and metadata blobs.
// The default is JSONSerializer.
func WithSerializer(ser Serializer) SQLiteOption {
	return func(s *SQLiteSaver) {
		s.serializer = ser
	}
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT NOT NULL,
		thread_ts TEXT NOT NULL,
		parent_ts TEXT,
		checkpoint BLOB NOT NULL,
		metadata BLOB NOT NULL,
		PRIMARY KEY (thread_id, thread_ts)
	)
`

// NewSQLiteSaver opens a SQLite checkpoint saver.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteSaver(path string, opts ...SQLiteOption) (*SQLiteSaver, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		// Each connection would get its own in-memory database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s, err := NewSQLiteSaverFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSaverFromDB creates a saver on an open database, creating the
// checkpoints table if needed. Close closes db.
func NewSQLiteSaverFromDB(db *sql.DB, opts ...SQLiteOption) (*SQLiteSaver, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	s := &SQLiteSaver{db: db, serializer: JSONSerializer{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get implements Saver.
func (s *SQLiteSaver) Get(ctx context.Context, cfg Config) (*Saved, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var row *sql.Row
	if cfg.ThreadTS != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_ts, parent_ts, checkpoint, metadata FROM checkpoints
			WHERE thread_id = ? AND thread_ts = ?
		`, cfg.ThreadID, cfg.ThreadTS)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT thread_ts, parent_ts, checkpoint, metadata FROM checkpoints
			WHERE thread_id = ?
			ORDER BY thread_ts DESC LIMIT 1
		`, cfg.ThreadID)
	}

	var (
		threadTS       string
		parentTS       sql.NullString
		cpBlob, mdBlob []byte
	)
	err := row.Scan(&threadTS, &parentTS, &cpBlob, &mdBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeSaved(s.serializer, cfg.ThreadID, threadTS, parentTS.String, cpBlob, mdBlob)
}

// List implements Saver. Matching rows are read before the first yield so
// the caller may use the saver while iterating.
func (s *SQLiteSaver) List(ctx context.Context, cfg Config, f Filter) iter.Seq2[*Saved, error] {
	return func(yield func(*Saved, error) bool) {
		entries, err := s.list(ctx, cfg, f)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, saved := range entries {
			if !yield(saved, nil) {
				return
			}
		}
	}
}

func (s *SQLiteSaver) list(ctx context.Context, cfg Config, f Filter) ([]*Saved, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		where []string
		args  []any
	)
	if cfg.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, cfg.ThreadID)
	}
	if f.Before != "" {
		where = append(where, "thread_ts < ?")
		args = append(args, f.Before)
	}
	query := "SELECT thread_id, thread_ts, parent_ts, checkpoint, metadata FROM checkpoints"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY thread_ts DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Saved
	for rows.Next() {
		var (
			threadID, threadTS string
			parentTS           sql.NullString
			cpBlob, mdBlob     []byte
		)
		if err := rows.Scan(&threadID, &threadTS, &parentTS, &cpBlob, &mdBlob); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		saved, err := decodeSaved(s.serializer, threadID, threadTS, parentTS.String, cpBlob, mdBlob)
		if err != nil {
			return nil, err
		}
		if !f.Match(saved) {
			continue
		}
		out = append(out, saved)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Put implements Saver.
func (s *SQLiteSaver) Put(ctx context.Context, cfg Config, cp *Checkpoint, md Metadata) (Config, error) {
	if cfg.ThreadID == "" {
		return Config{}, ErrThreadRequired
	}

	cpBlob, mdBlob, err := encodeSaved(s.serializer, cp, md)
	if err != nil {
		return Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Config{}, ErrStoreClosed
	}

	var parent sql.NullString
	if cfg.ThreadTS != "" {
		parent = sql.NullString{String: cfg.ThreadTS, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, thread_ts, parent_ts, checkpoint, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, thread_ts) DO UPDATE SET
			parent_ts = excluded.parent_ts,
			checkpoint = excluded.checkpoint,
			metadata = excluded.metadata
	`, cfg.ThreadID, cp.ID, parent, cpBlob, mdBlob)
	if err != nil {
		return Config{}, fmt.Errorf("save checkpoint: %w", err)
	}
	return Config{ThreadID: cfg.ThreadID, ThreadTS: cp.ID}, nil
}

// DeleteThread removes every checkpoint of a thread.
// Returns nil if the thread has no checkpoints.
func (s *SQLiteSaver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (s *SQLiteSaver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
