package domain

import (
	"fmt"
	"time"
)

// Kind is the announcement category reported by the platform.
type Kind string

const (
	KindNormal       Kind = "Normal"
	KindNewChallenge Kind = "NewChallenge"
	KindNewHint      Kind = "NewHint"
	KindFirstBlood   Kind = "FirstBlood"
	KindSecondBlood  Kind = "SecondBlood"
	KindThirdBlood   Kind = "ThirdBlood"
)

var allKinds = []Kind{
	KindNormal,
	KindNewChallenge,
	KindNewHint,
	KindFirstBlood,
	KindSecondBlood,
	KindThirdBlood,
}

// AllKinds returns every known kind in a fixed order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func ParseKind(s string) (Kind, bool) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Announcement is one notice as fetched from the platform. Timestamp is ms since epoch.
type Announcement struct {
	ID        int64    `json:"id"`
	Kind      Kind     `json:"type"`
	Values    []string `json:"values"`
	Timestamp int64    `json:"time"`
}

func (a Announcement) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// FilterKind keeps the announcements of kind k, preserving fetch order.
func FilterKind(list []Announcement, k Kind) []Announcement {
	var out []Announcement
	for _, a := range list {
		if a.Kind == k {
			out = append(out, a)
		}
	}
	return out
}

type Competition struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func (c Competition) DisplayName() string {
	if c.Name == "" {
		return "unnamed"
	}
	return c.Name
}

// TrackingKey is the dedup granularity: one competition, one kind.
type TrackingKey struct {
	CompetitionID int
	Kind          Kind
}

func (k TrackingKey) String() string {
	return fmt.Sprintf("%d:%s", k.CompetitionID, k.Kind)
}
