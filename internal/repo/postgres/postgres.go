package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/repo"
)

var _ repo.Mailbox = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS queue_mailbox (
  seq        BIGSERIAL   PRIMARY KEY,
  id         TEXT        NOT NULL UNIQUE,
  payload    JSONB       NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS queue_mailbox_corrupt (
  id       TEXT        NOT NULL,
  payload  JSONB       NOT NULL,
  moved_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Load returns every decodable item. Rows whose payload does not decode into
// a queue item are moved to queue_mailbox_corrupt and reported with an error
// wrapping repo.ErrCorrupt alongside the valid items.
func (s *Store) Load(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, payload FROM queue_mailbox ORDER BY seq`)
	if err != nil {
		return nil, repo.Wrap("load", err)
	}

	var (
		out []domain.QueueItem
		bad []string
	)
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, repo.Wrap("load", fmt.Errorf("scan: %w", err))
		}
		var it domain.QueueItem
		if err := json.Unmarshal(payload, &it); err != nil {
			bad = append(bad, id)
			continue
		}
		out = append(out, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, repo.Wrap("load", err)
	}
	if len(bad) == 0 {
		return out, nil
	}

	if err := s.quarantine(ctx, bad); err != nil {
		return out, repo.Wrap("load", fmt.Errorf("%w: quarantine: %v", repo.ErrCorrupt, err))
	}
	s.log.Warn("mailbox_rows_quarantined", zap.Strings("ids", bad))
	return out, repo.Wrap("load", fmt.Errorf("%w: rows %s", repo.ErrCorrupt, strings.Join(bad, ",")))
}

func (s *Store) quarantine(ctx context.Context, ids []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO queue_mailbox_corrupt (id, payload)
		 SELECT id, payload FROM queue_mailbox WHERE id = ANY($1)`, ids); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_mailbox WHERE id = ANY($1)`, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Append upserts all items in one transaction.
func (s *Store) Append(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return repo.Wrap("append", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return repo.Wrap("append", err)
		}
		batch.Queue(
			`INSERT INTO queue_mailbox (id, payload)
			 VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
			it.ID, b)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return repo.Wrap("append", fmt.Errorf("insert batch: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return repo.Wrap("append", err)
	}
	s.log.Debug("mailbox_appended", zap.Int("count", len(items)))
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_mailbox`)
	return repo.Wrap("clear", err)
}
