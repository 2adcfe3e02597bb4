package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/noticerelay/internal/render"
)

func TestDiscord_PostsEmbed(t *testing.T) {
	var got discordPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	d := NewDiscord(ts.URL, "relay")
	msg := render.Message{
		Title:  "【新增题目】",
		Body:   "新题目 web1 已开放",
		Colour: 0x2ecc71,
		URL:    "https://ctf.example/games/1/challenges",
		Footer: "2024-01-01 08:00:00",
		Time:   time.Unix(1704067200, 0).UTC(),
	}
	require.NoError(t, d.Send(context.Background(), msg))

	assert.Equal(t, "relay", got.Username)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "【新增题目】", e.Title)
	assert.Equal(t, 0x2ecc71, e.Color)
	assert.Equal(t, "2024-01-01 08:00:00", e.Footer.Text)
	assert.Equal(t, "2024-01-01T00:00:00Z", e.Timestamp)
}

func TestDiscord_RateLimitedIsSendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited."}`))
	}))
	defer ts.Close()

	err := NewDiscord(ts.URL, "").Send(context.Background(), render.Message{Title: "t"})
	var se *SendError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "discord", se.Transport)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, se.Error(), "rate limited")
}

func TestDiscord_Disabled(t *testing.T) {
	assert.Nil(t, NewDiscord("", "x"))
}
