package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/noticerelay/internal/render"
)

// Discord posts embeds through an incoming webhook.
type Discord struct {
	Webhook  string
	Username string
	Client   *http.Client
}

func NewDiscord(webhook, username string) *Discord {
	if webhook == "" {
		return nil
	}
	return &Discord{
		Webhook:  webhook,
		Username: username,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
	Color       int           `json:"color"`
	Footer      discordFooter `json:"footer"`
	Timestamp   string        `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, msg render.Message) error {
	if d == nil || d.Webhook == "" {
		return &SendError{Transport: "discord", Err: errors.New("discord disabled")}
	}
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		URL:         msg.URL,
		Color:       msg.Colour,
		Footer:      discordFooter{Text: msg.Footer},
	}
	if !msg.Time.IsZero() {
		embed.Timestamp = msg.Time.Format(time.RFC3339)
	}
	body, err := json.Marshal(discordPayload{Username: d.Username, Embeds: []discordEmbed{embed}})
	if err != nil {
		return &SendError{Transport: "discord", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Webhook, bytes.NewReader(body))
	if err != nil {
		return &SendError{Transport: "discord", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return &SendError{Transport: "discord", Err: err}
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode/100 != 2 {
		return &SendError{
			Transport:  "discord",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("discord non-2xx: %s", bytes.TrimSpace(snippet)),
		}
	}
	return nil
}
