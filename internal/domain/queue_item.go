package domain

import (
	"fmt"
	"time"
)

// Presentation carries what a renderer needs besides the announcement itself.
type Presentation struct {
	CompetitionID   int    `json:"competition_id"`
	CompetitionName string `json:"competition_name,omitempty"`
	BaseURL         string `json:"base_url"`
}

func NewPresentation(c Competition, baseURL string) Presentation {
	return Presentation{
		CompetitionID:   c.ID,
		CompetitionName: c.Name,
		BaseURL:         baseURL,
	}
}

// QueueItem is an announcement whose immediate send failed.
// NextRetryAt is unix seconds.
type QueueItem struct {
	ID           string       `json:"id"`
	Announcement Announcement `json:"notice"`
	Kind         Kind         `json:"notice_type"`
	Presentation
	RetryCount  int   `json:"retry_count"`
	NextRetryAt int64 `json:"next_retry_at"`
}

// ItemID derives the stable queue id competition:announcement:timestamp.
func ItemID(competitionID int, a Announcement) string {
	return fmt.Sprintf("%d:%d:%d", competitionID, a.ID, a.Timestamp)
}

// NewQueueItem builds the item for a send that just failed at now.
func NewQueueItem(a Announcement, p Presentation, now time.Time) QueueItem {
	return QueueItem{
		ID:           ItemID(p.CompetitionID, a),
		Announcement: a,
		Kind:         a.Kind,
		Presentation: p,
		RetryCount:   0,
		NextRetryAt:  now.Unix() + backoffSeconds(0),
	}
}

// Backoff is the wait after a failure when retryCount failed retries have
// already happened: 2^(retryCount+1) seconds.
func Backoff(retryCount int) time.Duration {
	return time.Duration(backoffSeconds(retryCount)) * time.Second
}

func backoffSeconds(retryCount int) int64 {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return int64(1) << (retryCount + 1)
}

func (q QueueItem) Due(now time.Time) bool {
	return now.Unix() >= q.NextRetryAt
}

// Fail records one failed retry at now and reports whether the retry budget
// is spent.
func (q *QueueItem) Fail(now time.Time, budget int) bool {
	q.RetryCount++
	q.NextRetryAt = now.Unix() + backoffSeconds(q.RetryCount)
	return q.RetryCount >= budget
}
