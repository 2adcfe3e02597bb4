// Package sqlite keeps the mailbox in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/repo"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mailbox (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  id         TEXT    NOT NULL UNIQUE,
  payload    TEXT    NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mailbox_corrupt (
  id       TEXT    NOT NULL,
  payload  TEXT    NOT NULL,
  moved_at INTEGER NOT NULL
);`

type badRow struct {
	id, payload string
}

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func New(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns every decodable item. Rows that fail to decode are moved to
// mailbox_corrupt and reported with an error wrapping repo.ErrCorrupt, so the
// valid items still come back and the next Load is clean.
func (s *Store) Load(ctx context.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, bad, err := s.scan(ctx)
	if err != nil {
		return nil, repo.Wrap("load", err)
	}
	if len(bad) == 0 {
		return out, nil
	}
	if err := s.quarantine(ctx, bad); err != nil {
		return out, repo.Wrap("load", fmt.Errorf("%w: quarantine: %v", repo.ErrCorrupt, err))
	}
	ids := make([]string, 0, len(bad))
	for _, b := range bad {
		ids = append(ids, b.id)
	}
	return out, repo.Wrap("load", fmt.Errorf("%w: rows %s", repo.ErrCorrupt, strings.Join(ids, ",")))
}

func (s *Store) scan(ctx context.Context) ([]domain.QueueItem, []badRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM mailbox ORDER BY seq`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		out []domain.QueueItem
		bad []badRow
	)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, err
		}
		var it domain.QueueItem
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			bad = append(bad, badRow{id: id, payload: payload})
			continue
		}
		out = append(out, it)
	}
	return out, bad, rows.Err()
}

func (s *Store) quarantine(ctx context.Context, bad []badRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, b := range bad {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mailbox_corrupt (id, payload, moved_at) VALUES (?, ?, ?)`,
			b.id, b.payload, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mailbox WHERE id = ?`, b.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Append(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repo.Wrap("append", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return repo.Wrap("append", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mailbox (id, payload, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
			it.ID, string(b), now); err != nil {
			return repo.Wrap("append", fmt.Errorf("insert %s: %w", it.ID, err))
		}
	}
	return repo.Wrap("append", tx.Commit())
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM mailbox`)
	return repo.Wrap("clear", err)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ repo.Mailbox = (*Store)(nil)
