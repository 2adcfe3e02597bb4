// Package source fetches announcements from the competition platform.
package source

import (
	"context"
	"fmt"

	"github.com/hamed0406/noticerelay/internal/domain"
)

// Source returns every announcement currently published for a competition.
type Source interface {
	Fetch(ctx context.Context, competitionID int) ([]domain.Announcement, error)
}

// FetchError is a failed fetch for one competition. StatusCode is 0 for
// transport and decode failures.
type FetchError struct {
	CompetitionID int
	StatusCode    int
	Err           error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch competition %d: status %d: %v", e.CompetitionID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch competition %d: %v", e.CompetitionID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
