package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/repo"
)

func TestPostgresStore_Append_Load_Clear(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	items := []domain.QueueItem{
		{ID: "1:1:100", Kind: domain.KindNormal, RetryCount: 4},
		{ID: "1:2:200", Kind: domain.KindFirstBlood, Announcement: domain.Announcement{Values: []string{"team", "pwn1"}}},
	}
	if err := s.Append(ctx, items); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// re-append same id: upsert, no duplicate
	if err := s.Append(ctx, items[:1]); err != nil {
		t.Fatalf("Append again: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 items, got %d", len(got))
	}
	if got[1].Announcement.Values[1] != "pwn1" {
		t.Fatalf("payload not preserved: %+v", got[1])
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ = s.Load(ctx)
	if len(got) != 0 {
		t.Fatalf("want empty after Clear, got %d", len(got))
	}
}

func TestPostgresStore_LoadSkipsCorruptRow(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if err := s.Append(ctx, []domain.QueueItem{{ID: "1:9:900", Kind: domain.KindNormal}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// valid JSON, but not an object
	if _, err := s.pool.Exec(ctx, `INSERT INTO queue_mailbox (id, payload) VALUES ('bad', '"oops"')`); err != nil {
		t.Fatalf("insert bad row: %v", err)
	}

	got, err := s.Load(ctx)
	if !errors.Is(err, repo.ErrCorrupt) {
		t.Fatalf("want ErrCorrupt, got %v", err)
	}
	if len(got) != 1 || got[0].ID != "1:9:900" {
		t.Fatalf("want the good item back, got %+v", got)
	}

	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 item on second load, got %d", len(got))
	}
	_ = s.Clear(ctx)
}
