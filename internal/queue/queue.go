// Package queue retries announcements whose immediate send failed and moves
// the ones that keep failing into the mailbox.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/metrics"
	"github.com/hamed0406/noticerelay/internal/repo"
)

const (
	DefaultTick       = time.Second
	DefaultMaxRetries = 4
)

// Deliverer makes one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, a domain.Announcement, p domain.Presentation) error
}

// StartupLoadError means the mailbox could not be read at startup. The
// queue stays usable and starts empty.
type StartupLoadError struct {
	Err error
}

func (e *StartupLoadError) Error() string { return fmt.Sprintf("load mailbox: %v", e.Err) }
func (e *StartupLoadError) Unwrap() error { return e.Err }

type Options struct {
	Tick       time.Duration
	MaxRetries int
	Now        func() time.Time
}

// Snapshot is a copy of the in-memory sets.
type Snapshot struct {
	Retry    []domain.QueueItem `json:"retry"`
	Overflow []domain.QueueItem `json:"overflow"`
}

type Queue struct {
	mu       sync.RWMutex
	items    []domain.QueueItem
	overflow []domain.QueueItem

	// persistMu serializes mailbox writes; never taken while holding mu.
	persistMu sync.Mutex

	store   repo.Mailbox
	deliver Deliverer
	log     *zap.Logger
	now     func() time.Time
	tick    time.Duration
	budget  int

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(store repo.Mailbox, d Deliverer, log *zap.Logger, opts Options) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:   store,
		deliver: d,
		log:     log,
		now:     opts.Now,
		tick:    opts.Tick,
		budget:  opts.MaxRetries,
	}
}

// Enqueue adds an item to the retry set. An item with the same id replaces
// the existing one.
func (q *Queue) Enqueue(item domain.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upsertLocked(item)
	q.gaugeLocked()
	q.log.Info("queue_enqueued",
		zap.String("item_id", item.ID),
		zap.Int("competition_id", item.CompetitionID),
		zap.Int64("announcement_id", item.Announcement.ID),
		zap.Int("retry_count", item.RetryCount),
		zap.Int64("next_retry_at", item.NextRetryAt))
}

func (q *Queue) upsertLocked(item domain.QueueItem) {
	for i := range q.items {
		if q.items[i].ID == item.ID {
			q.items[i] = item
			return
		}
	}
	q.items = append(q.items, item)
}

func (q *Queue) gaugeLocked() {
	metrics.RecordQueue(len(q.items), len(q.overflow))
}

// Len counts items held in memory, pending-persist included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items) + len(q.overflow)
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Snapshot{
		Retry:    append([]domain.QueueItem{}, q.items...),
		Overflow: append([]domain.QueueItem{}, q.overflow...),
	}
}

// Start launches the retry loop. Later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		q.done = make(chan struct{})
		go q.run(ctx)
	})
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	t := time.NewTicker(q.tick)
	defer t.Stop()

	q.log.Info("queue_retry_loop_started", zap.Duration("tick", q.tick), zap.Int("max_retries", q.budget))
	for {
		select {
		case <-ctx.Done():
			q.log.Info("queue_retry_loop_stopped")
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			q.log.Info("queue_retry_loop_stopped")
			return
		}
		q.RunOnce(ctx)
	}
}

// RunOnce is one tick: retry due items, then persist exhausted ones.
// Cancelling ctx stops further attempts; an attempt already in flight runs
// to completion.
func (q *Queue) RunOnce(ctx context.Context) {
	q.retryDue(ctx)
	_ = q.flushOverflow(context.WithoutCancel(ctx))
}

type attempt struct {
	id  string
	err error
}

func (q *Queue) retryDue(ctx context.Context) {
	now := q.now()

	q.mu.RLock()
	var due []domain.QueueItem
	for _, it := range q.items {
		if it.Due(now) {
			due = append(due, it)
		}
	}
	q.mu.RUnlock()
	if len(due) == 0 {
		return
	}

	sendCtx := context.WithoutCancel(ctx)
	results := make([]attempt, 0, len(due))
	for _, it := range due {
		if ctx.Err() != nil {
			break
		}
		err := q.deliver.Deliver(sendCtx, it.Announcement, it.Presentation)
		metrics.RecordDelivery(metrics.PathRetry, err)
		results = append(results, attempt{id: it.ID, err: err})
	}

	q.apply(results)
}

func (q *Queue) apply(results []attempt) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range results {
		idx := -1
		for i := range q.items {
			if q.items[i].ID == r.id {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		it := q.items[idx]
		if r.err == nil {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.log.Info("queue_retry_delivered",
				zap.String("item_id", it.ID),
				zap.Int("competition_id", it.CompetitionID),
				zap.Int64("announcement_id", it.Announcement.ID),
				zap.Int("retry_count", it.RetryCount))
			continue
		}

		exhausted := it.Fail(now, q.budget)
		fields := []zap.Field{
			zap.String("item_id", it.ID),
			zap.Int("competition_id", it.CompetitionID),
			zap.Int64("announcement_id", it.Announcement.ID),
			zap.Int("retry_count", it.RetryCount),
			zap.Error(r.err),
		}
		if exhausted {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.overflow = append(q.overflow, it)
			q.log.Warn("queue_retry_exhausted", fields...)
			continue
		}
		q.items[idx] = it
		q.log.Warn("queue_retry_failed", append(fields, zap.Int64("next_retry_at", it.NextRetryAt))...)
	}
	q.gaugeLocked()
}

// flushOverflow writes pending-persist items to the mailbox and drops them
// from memory only after the write succeeded.
func (q *Queue) flushOverflow(ctx context.Context) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.RLock()
	pending := append([]domain.QueueItem{}, q.overflow...)
	q.mu.RUnlock()
	if len(pending) == 0 {
		return nil
	}

	if err := q.store.Append(ctx, pending); err != nil {
		metrics.RecordPersistError()
		q.log.Error("queue_persist_failed", zap.Int("count", len(pending)), zap.Error(err))
		return err
	}

	q.mu.Lock()
	q.overflow = removeIDs(q.overflow, pending)
	q.gaugeLocked()
	q.mu.Unlock()

	metrics.RecordPersisted(metrics.ReasonExhausted, len(pending))
	for _, it := range pending {
		q.log.Warn("queue_item_persisted",
			zap.String("item_id", it.ID),
			zap.Int("competition_id", it.CompetitionID),
			zap.Int64("announcement_id", it.Announcement.ID),
			zap.Int("retry_count", it.RetryCount))
	}
	return nil
}

func removeIDs(list, drop []domain.QueueItem) []domain.QueueItem {
	gone := make(map[string]struct{}, len(drop))
	for _, it := range drop {
		gone[it.ID] = struct{}{}
	}
	out := list[:0]
	for _, it := range list {
		if _, ok := gone[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

// LoadFromDisk moves mailbox content into the retry set and clears the
// mailbox. Items keep their stored counters. A read failure is returned as
// *StartupLoadError and leaves the queue empty, except for repo.ErrCorrupt
// where the store hands back the rows it could decode: those are loaded and
// the error is still reported.
func (q *Queue) LoadFromDisk(ctx context.Context) (int, error) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	items, err := q.store.Load(ctx)
	if err != nil && !errors.Is(err, repo.ErrCorrupt) {
		return 0, &StartupLoadError{Err: err}
	}
	loadErr := err
	if len(items) == 0 {
		if loadErr != nil {
			return 0, &StartupLoadError{Err: loadErr}
		}
		return 0, nil
	}

	q.mu.Lock()
	for _, it := range items {
		q.upsertLocked(it)
	}
	q.gaugeLocked()
	q.mu.Unlock()

	if err := q.store.Clear(ctx); err != nil {
		q.log.Error("queue_mailbox_clear_failed", zap.Error(err))
		return len(items), errors.Join(err, loadErr)
	}
	q.log.Info("queue_loaded_from_mailbox", zap.Int("count", len(items)))
	if loadErr != nil {
		return len(items), &StartupLoadError{Err: loadErr}
	}
	return len(items), nil
}

// Shutdown stops the retry loop, waits for the current tick, and writes
// everything still in memory to the mailbox. On a write failure the items
// stay in memory and the error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
		select {
		case <-q.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for retry loop: %w", ctx.Err())
		}
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.RLock()
	all := make([]domain.QueueItem, 0, len(q.items)+len(q.overflow))
	all = append(all, q.items...)
	all = append(all, q.overflow...)
	q.mu.RUnlock()
	if len(all) == 0 {
		return nil
	}

	if err := q.store.Append(ctx, all); err != nil {
		metrics.RecordPersistError()
		q.log.Error("queue_shutdown_flush_failed", zap.Int("count", len(all)), zap.Error(err))
		return err
	}

	q.mu.Lock()
	q.items = removeIDs(q.items, all)
	q.overflow = removeIDs(q.overflow, all)
	q.gaugeLocked()
	q.mu.Unlock()

	metrics.RecordPersisted(metrics.ReasonShutdown, len(all))
	q.log.Info("queue_shutdown_flushed", zap.Int("count", len(all)))
	return nil
}

// IsStartupLoadError reports whether err came from a failed mailbox read.
func IsStartupLoadError(err error) bool {
	var sle *StartupLoadError
	return errors.As(err, &sle)
}
