package repo

import (
	"context"

	"github.com/hamed0406/noticerelay/internal/domain"
)

// Mailbox is the durable store for queue items that exhausted their retry
// budget or were still in memory at shutdown. It is read wholesale at startup
// and then cleared; it is not a long-term log.
type Mailbox interface {
	// Load returns every stored item in insertion order. A store that does
	// not exist yet yields nil, nil.
	Load(ctx context.Context) ([]domain.QueueItem, error)
	// Append merges items into the store. An item whose id is already stored
	// replaces the stored copy, so an id appears at most once.
	Append(ctx context.Context, items []domain.QueueItem) error
	// Clear removes every stored item.
	Clear(ctx context.Context) error
	Close() error
}

// Merge applies Append semantics to an in-memory list: same id replaces in
// place, new ids go to the end.
func Merge(existing, items []domain.QueueItem) []domain.QueueItem {
	idx := make(map[string]int, len(existing))
	out := make([]domain.QueueItem, 0, len(existing)+len(items))
	for _, it := range existing {
		if i, ok := idx[it.ID]; ok {
			out[i] = it
			continue
		}
		idx[it.ID] = len(out)
		out = append(out, it)
	}
	for _, it := range items {
		if i, ok := idx[it.ID]; ok {
			out[i] = it
			continue
		}
		idx[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}
