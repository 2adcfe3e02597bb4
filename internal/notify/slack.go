package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/noticerelay/internal/render"
)

type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, msg render.Message) error {
	if s == nil || s.Webhook == "" {
		return &SendError{Transport: "slack", Err: errors.New("slack disabled")}
	}
	body, _ := json.Marshal(slackPayload{Text: slackText(msg)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return &SendError{Transport: "slack", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return &SendError{Transport: "slack", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return &SendError{Transport: "slack", StatusCode: resp.StatusCode, Err: errors.New("slack non-2xx")}
	}
	return nil
}

// slackText is the plain rendering with mrkdwn bold title, angle-bracket link
// and italic footer.
func slackText(msg render.Message) string {
	m := msg
	m.Title = "*" + msg.Title + "*"
	if msg.URL != "" {
		m.URL = "<" + msg.URL + ">"
	}
	if msg.Footer != "" {
		m.Footer = "_" + msg.Footer + "_"
	}
	return m.Text()
}
