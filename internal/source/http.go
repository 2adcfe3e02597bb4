package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/noticerelay/internal/domain"
)

// maxBody caps how much of a notices response is read.
const maxBody = 4 << 20

type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	Log     *zap.Logger
}

// NewHTTPSource builds a client for the platform at baseURL. insecure skips
// certificate verification; self-hosted platforms often run self-signed.
func NewHTTPSource(baseURL string, timeout time.Duration, insecure bool, log *zap.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout, Transport: tr},
		Log:     log,
	}
}

// rawNotice mirrors the platform payload; type stays a string so unknown
// kinds can be skipped instead of failing the whole fetch.
type rawNotice struct {
	ID     int64    `json:"id"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
	Time   int64    `json:"time"`
}

func (s *HTTPSource) NoticesURL(competitionID int) string {
	return fmt.Sprintf("%s/api/game/%d/notices", s.BaseURL, competitionID)
}

func (s *HTTPSource) Fetch(ctx context.Context, competitionID int) ([]domain.Announcement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.NoticesURL(competitionID), nil)
	if err != nil {
		return nil, &FetchError{CompetitionID: competitionID, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &FetchError{CompetitionID: competitionID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{
			CompetitionID: competitionID,
			StatusCode:    resp.StatusCode,
			Err:           errors.New(resp.Status),
		}
	}

	var raw []rawNotice
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&raw); err != nil {
		return nil, &FetchError{
			CompetitionID: competitionID,
			StatusCode:    resp.StatusCode,
			Err:           fmt.Errorf("decode notices: %w", err),
		}
	}

	out := make([]domain.Announcement, 0, len(raw))
	for _, n := range raw {
		k, ok := domain.ParseKind(n.Type)
		if !ok {
			s.Log.Debug("notice_unknown_type",
				zap.Int("competition_id", competitionID),
				zap.Int64("announcement_id", n.ID),
				zap.String("type", n.Type))
			continue
		}
		out = append(out, domain.Announcement{ID: n.ID, Kind: k, Values: n.Values, Timestamp: n.Time})
	}
	return out, nil
}
