package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/source"
	"github.com/hamed0406/noticerelay/internal/tracker"
)

// --- fakes ---

type fakeSource struct {
	mu   sync.Mutex
	data map[int][]domain.Announcement
	errs map[int]error
	n    int
}

func (f *fakeSource) set(id int, list ...domain.Announcement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = map[int][]domain.Announcement{}
	}
	f.data[id] = list
}

func (f *fakeSource) fail(id int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[int]error{}
	}
	f.errs[id] = err
}

func (f *fakeSource) Fetch(ctx context.Context, id int) ([]domain.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if err := f.errs[id]; err != nil {
		return nil, &source.FetchError{CompetitionID: id, Err: err}
	}
	return append([]domain.Announcement(nil), f.data[id]...), nil
}

type fakeDeliverer struct {
	mu      sync.Mutex
	sent    []domain.Announcement
	failIDs map[int64]bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, a domain.Announcement, p domain.Presentation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	if f.failIDs[a.ID] {
		return errors.New("send failed")
	}
	return nil
}

func (f *fakeDeliverer) ids() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for _, a := range f.sent {
		out = append(out, a.ID)
	}
	return out
}

type fakeQueue struct {
	mu    sync.Mutex
	items []domain.QueueItem
}

func (f *fakeQueue) Enqueue(it domain.QueueItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, it)
}

func normal(id, ts int64) domain.Announcement {
	return domain.Announcement{ID: id, Kind: domain.KindNormal, Values: []string{"n"}, Timestamp: ts}
}

func newPoller(src *fakeSource, d *fakeDeliverer, q *fakeQueue, comps ...domain.Competition) *Poller {
	p := NewPoller(zap.NewNop(), src, tracker.New(), d, q, comps, "https://ctf.example", time.Hour)
	p.Now = func() time.Time { return time.Unix(5000, 0) }
	return p
}

// --- tests ---

func TestPoller_BaselineThenOnlyNew(t *testing.T) {
	src := &fakeSource{}
	src.set(1, normal(1, 100))
	d := &fakeDeliverer{}
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1})

	p.Init(context.Background())
	if !p.Ready() {
		t.Fatal("expected ready after Init")
	}

	p.PollOnce(context.Background())
	if got := d.ids(); len(got) != 0 {
		t.Fatalf("baseline replayed: %v", got)
	}

	src.set(1, normal(1, 100), normal(2, 200))
	p.PollOnce(context.Background())
	p.PollOnce(context.Background())
	if got := d.ids(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("want exactly [2], got %v", got)
	}
}

func TestPoller_OrdersByTimestampStable(t *testing.T) {
	src := &fakeSource{}
	src.set(1)
	d := &fakeDeliverer{}
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1})
	p.Init(context.Background())

	src.set(1, normal(10, 300), normal(11, 100), normal(12, 200), normal(13, 100))
	p.PollOnce(context.Background())

	want := []int64{11, 13, 12, 10}
	got := d.ids()
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestPoller_SameTimestampDifferentIDs(t *testing.T) {
	src := &fakeSource{}
	src.set(1, normal(1, 100))
	d := &fakeDeliverer{}
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1})
	p.Init(context.Background())

	src.set(1, normal(1, 100), normal(2, 100))
	p.PollOnce(context.Background())
	if got := d.ids(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("want [2], got %v", got)
	}
}

func TestPoller_FailedSendIsEnqueuedAndMarkedSeen(t *testing.T) {
	src := &fakeSource{}
	src.set(1)
	d := &fakeDeliverer{failIDs: map[int64]bool{3: true}}
	q := &fakeQueue{}
	p := newPoller(src, d, q, domain.Competition{ID: 1, Name: "Spring"})
	p.Init(context.Background())

	src.set(1, normal(3, 300))
	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	if got := d.ids(); len(got) != 1 {
		t.Fatalf("failed item re-detected: %v", got)
	}
	if len(q.items) != 1 {
		t.Fatalf("want 1 queued, got %d", len(q.items))
	}
	it := q.items[0]
	if it.ID != "1:3:300" || it.RetryCount != 0 || it.NextRetryAt != 5002 {
		t.Fatalf("unexpected item: %+v", it)
	}
	if it.CompetitionName != "Spring" || it.BaseURL != "https://ctf.example" {
		t.Fatalf("presentation not carried: %+v", it.Presentation)
	}
}

func TestPoller_FetchErrorSkipsOnlyThatCompetition(t *testing.T) {
	src := &fakeSource{}
	src.set(1)
	src.set(2)
	d := &fakeDeliverer{}
	core, logs := observer.New(zap.WarnLevel)
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1}, domain.Competition{ID: 2})
	p.Logger = zap.New(core)
	p.Init(context.Background())

	src.fail(1, errors.New("502"))
	src.set(2, normal(7, 700))
	p.PollOnce(context.Background())

	if got := d.ids(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("want [7], got %v", got)
	}
	if logs.FilterMessage("poll_fetch_error").Len() != 1 {
		t.Fatalf("expected one poll_fetch_error log, got %d", logs.FilterMessage("poll_fetch_error").Len())
	}
}

func TestPoller_FailedBaselineTakenOnFirstSuccess(t *testing.T) {
	src := &fakeSource{}
	src.fail(1, errors.New("down"))
	d := &fakeDeliverer{}
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1})
	p.Init(context.Background())
	if p.Tracker.Initialized(1) {
		t.Fatal("competition should not be initialized")
	}

	src.fail(1, nil)
	src.set(1, normal(1, 100), normal(2, 200))
	p.PollOnce(context.Background())
	if got := d.ids(); len(got) != 0 {
		t.Fatalf("history delivered: %v", got)
	}

	src.set(1, normal(1, 100), normal(2, 200), normal(3, 300))
	p.PollOnce(context.Background())
	if got := d.ids(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("want [3], got %v", got)
	}
}

func TestPoller_KindsTrackedIndependently(t *testing.T) {
	src := &fakeSource{}
	src.set(1, normal(1, 100))
	d := &fakeDeliverer{}
	p := newPoller(src, d, &fakeQueue{}, domain.Competition{ID: 1})
	p.Init(context.Background())

	blood := domain.Announcement{ID: 1, Kind: domain.KindFirstBlood, Values: []string{"t", "c"}, Timestamp: 150}
	src.set(1, normal(1, 100), blood)
	p.PollOnce(context.Background())
	if len(d.sent) != 1 || d.sent[0].Kind != domain.KindFirstBlood {
		t.Fatalf("want the blood notice, got %+v", d.sent)
	}
}

func TestPoller_RunWithoutCompetitions(t *testing.T) {
	p := newPoller(&fakeSource{}, &fakeDeliverer{}, &fakeQueue{})
	if err := p.Run(context.Background()); !errors.Is(err, ErrNoCompetitions) {
		t.Fatalf("want ErrNoCompetitions, got %v", err)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	src.set(1)
	p := newPoller(src, &fakeDeliverer{}, &fakeQueue{}, domain.Competition{ID: 1})
	p.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if !p.Ready() {
		t.Fatal("expected ready")
	}
}

// cancellingDeliverer cancels the poll ctx mid-send, like a shutdown signal
// arriving while the webhook call is in flight.
type cancellingDeliverer struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingDeliverer) Deliver(ctx context.Context, a domain.Announcement, p domain.Presentation) error {
	c.calls++
	c.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func TestPoller_CancelDuringDeliverEnqueuesOnce(t *testing.T) {
	src := &fakeSource{}
	src.set(1)
	q := &fakeQueue{}
	core, logs := observer.New(zap.WarnLevel)
	p := newPoller(src, &fakeDeliverer{}, q, domain.Competition{ID: 1})
	p.Logger = zap.New(core)
	p.Init(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &cancellingDeliverer{cancel: cancel}
	p.Deliverer = d

	src.set(1, normal(1, 100), normal(2, 200))
	p.PollOnce(ctx)

	if d.calls != 1 {
		t.Fatalf("want 1 send attempt, got %d", d.calls)
	}
	if len(q.items) != 1 || q.items[0].ID != "1:1:100" {
		t.Fatalf("want exactly [1:1:100] queued, got %+v", q.items)
	}
	key := domain.TrackingKey{CompetitionID: 1, Kind: domain.KindNormal}
	if !p.Tracker.IsNew(key, normal(2, 200)) {
		t.Fatal("unattempted announcement must stay unseen")
	}
	entries := logs.FilterMessage("poll_send_failed").All()
	if len(entries) != 1 {
		t.Fatalf("want one poll_send_failed log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["key"]; got != "1:Normal" {
		t.Fatalf("want key 1:Normal, got %v", got)
	}
}
