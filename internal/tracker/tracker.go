// Package tracker remembers which announcements were already handled, per
// competition and kind.
package tracker

import (
	"sort"
	"sync"

	"github.com/hamed0406/noticerelay/internal/domain"
)

// Tracker is a seen-id set per TrackingKey. Sets only grow.
// It is safe for concurrent use; the lock is never held across I/O.
type Tracker struct {
	mu          sync.RWMutex
	seen        map[domain.TrackingKey]map[int64]struct{}
	initialized map[int]bool
}

func New() *Tracker {
	return &Tracker{
		seen:        make(map[domain.TrackingKey]map[int64]struct{}),
		initialized: make(map[int]bool),
	}
}

func (t *Tracker) IsNew(key domain.TrackingKey, a domain.Announcement) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.seen[key][a.ID]
	return !ok
}

// FilterNew returns the announcements not yet recorded for key, in input order.
func (t *Tracker) FilterNew(key domain.TrackingKey, list []domain.Announcement) []domain.Announcement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.seen[key]
	var out []domain.Announcement
	for _, a := range list {
		if _, ok := set[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}

func (t *Tracker) RecordSeen(key domain.TrackingKey, a domain.Announcement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(key, a.ID)
}

// Initialize marks everything currently present as seen without delivering it.
func (t *Tracker) Initialize(key domain.TrackingKey, existing []domain.Announcement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[key] == nil {
		t.seen[key] = make(map[int64]struct{}, len(existing))
	}
	for _, a := range existing {
		t.addLocked(key, a.ID)
	}
	t.initialized[key.CompetitionID] = true
}

// Initialized reports whether a baseline was taken for the competition.
func (t *Tracker) Initialized(competitionID int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.initialized[competitionID]
}

func (t *Tracker) addLocked(key domain.TrackingKey, id int64) {
	set := t.seen[key]
	if set == nil {
		set = make(map[int64]struct{})
		t.seen[key] = set
	}
	set[id] = struct{}{}
}

type Stat struct {
	CompetitionID int         `json:"competition_id"`
	Kind          domain.Kind `json:"kind"`
	Seen          int         `json:"seen"`
}

// Stats lists the size of every set, ordered by competition then kind.
func (t *Tracker) Stats() []Stat {
	t.mu.RLock()
	out := make([]Stat, 0, len(t.seen))
	for k, set := range t.seen {
		out = append(out, Stat{CompetitionID: k.CompetitionID, Kind: k.Kind, Seen: len(set)})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CompetitionID != out[j].CompetitionID {
			return out[i].CompetitionID < out[j].CompetitionID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
