package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/repo"
)

// Store is a process-local Mailbox. It does not survive restarts and is meant
// for tests and dry runs.
type Store struct {
	mu    sync.RWMutex
	items []domain.QueueItem
}

func New() *Store {
	return &Store{items: make([]domain.QueueItem, 0, 8)}
}

func (m *Store) Load(ctx context.Context) ([]domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.items) == 0 {
		return nil, nil
	}
	out := make([]domain.QueueItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *Store) Append(ctx context.Context, items []domain.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = repo.Merge(m.items, items)
	return nil
}

func (m *Store) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = m.items[:0]
	return nil
}

func (m *Store) Close() error { return nil }

var _ repo.Mailbox = (*Store)(nil)
