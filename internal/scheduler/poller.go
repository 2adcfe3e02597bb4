package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/metrics"
	"github.com/hamed0406/noticerelay/internal/source"
	"github.com/hamed0406/noticerelay/internal/tracker"
)

// ErrNoCompetitions is returned by Run when there is nothing to poll.
var ErrNoCompetitions = errors.New("no competitions configured")

type Deliverer interface {
	Deliver(ctx context.Context, a domain.Announcement, p domain.Presentation) error
}

type Enqueuer interface {
	Enqueue(item domain.QueueItem)
}

// Poller fetches every competition once per interval and delivers what the
// tracker has not seen. Failed sends go to the queue.
type Poller struct {
	Logger       *zap.Logger
	Source       source.Source
	Tracker      *tracker.Tracker
	Deliverer    Deliverer
	Queue        Enqueuer
	Competitions []domain.Competition
	BaseURL      string
	Interval     time.Duration
	Now          func() time.Time

	ready atomic.Bool
}

func NewPoller(
	logger *zap.Logger,
	src source.Source,
	tr *tracker.Tracker,
	d Deliverer,
	q Enqueuer,
	competitions []domain.Competition,
	baseURL string,
	interval time.Duration,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		Logger:       logger,
		Source:       src,
		Tracker:      tr,
		Deliverer:    d,
		Queue:        q,
		Competitions: competitions,
		BaseURL:      baseURL,
		Interval:     interval,
		Now:          time.Now,
	}
}

// Ready reports whether the startup baseline has been taken.
func (p *Poller) Ready() bool { return p.ready.Load() }

// Run takes the baseline, then polls each tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.Competitions) == 0 {
		p.Logger.Error("poll_no_competitions")
		return ErrNoCompetitions
	}

	p.Init(ctx)

	t := time.NewTicker(p.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("poller_stopped")
			return ctx.Err()
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// Init records what every competition already shows so it is never
// announced. A competition whose fetch fails gets its baseline on the first
// successful poll instead.
func (p *Poller) Init(ctx context.Context) {
	for _, c := range p.Competitions {
		if ctx.Err() != nil {
			return
		}
		list, err := p.Source.Fetch(ctx, c.ID)
		if err != nil {
			metrics.RecordFetchError(c.ID)
			p.Logger.Warn("poll_baseline_fetch_error",
				zap.Int("competition_id", c.ID),
				zap.String("competition", c.DisplayName()),
				zap.Error(err))
			continue
		}
		p.baseline(c, list)
	}
	p.ready.Store(true)
}

func (p *Poller) baseline(c domain.Competition, list []domain.Announcement) {
	for _, k := range domain.AllKinds() {
		p.Tracker.Initialize(domain.TrackingKey{CompetitionID: c.ID, Kind: k}, domain.FilterKind(list, k))
	}
	p.Logger.Info("poll_baseline",
		zap.Int("competition_id", c.ID),
		zap.String("competition", c.DisplayName()),
		zap.Int("existing", len(list)))
}

// PollOnce runs one tick, competitions in order.
func (p *Poller) PollOnce(ctx context.Context) {
	metrics.RecordPollTick()
	for _, c := range p.Competitions {
		if ctx.Err() != nil {
			return
		}
		p.pollCompetition(ctx, c)
	}
}

func (p *Poller) pollCompetition(ctx context.Context, c domain.Competition) {
	list, err := p.Source.Fetch(ctx, c.ID)
	if err != nil {
		metrics.RecordFetchError(c.ID)
		p.Logger.Warn("poll_fetch_error",
			zap.Int("competition_id", c.ID),
			zap.String("competition", c.DisplayName()),
			zap.Error(err))
		return
	}

	if !p.Tracker.Initialized(c.ID) {
		p.baseline(c, list)
		return
	}

	pres := domain.NewPresentation(c, p.BaseURL)
	for _, k := range domain.AllKinds() {
		key := domain.TrackingKey{CompetitionID: c.ID, Kind: k}
		fresh := p.Tracker.FilterNew(key, domain.FilterKind(list, k))
		if len(fresh) == 0 {
			continue
		}
		sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })
		metrics.RecordNew(c.ID, string(k), len(fresh))

		for _, a := range fresh {
			if ctx.Err() != nil {
				return
			}
			p.deliver(ctx, key, a, pres)
		}
	}
}

// deliver makes the immediate attempt. The announcement is marked seen
// either way; a failure hands it to the queue.
func (p *Poller) deliver(ctx context.Context, key domain.TrackingKey, a domain.Announcement, pres domain.Presentation) {
	err := p.Deliverer.Deliver(ctx, a, pres)
	metrics.RecordDelivery(metrics.PathImmediate, err)
	p.Tracker.RecordSeen(key, a)

	if err != nil {
		item := domain.NewQueueItem(a, pres, p.Now())
		p.Queue.Enqueue(item)
		p.Logger.Warn("poll_send_failed",
			zap.Stringer("key", key),
			zap.Int("competition_id", key.CompetitionID),
			zap.Int64("announcement_id", a.ID),
			zap.String("kind", string(a.Kind)),
			zap.String("item_id", item.ID),
			zap.Error(err))
		return
	}
	p.Logger.Info("poll_delivered",
		zap.Stringer("key", key),
		zap.Int("competition_id", key.CompetitionID),
		zap.Int64("announcement_id", a.ID),
		zap.String("kind", string(a.Kind)))
}
