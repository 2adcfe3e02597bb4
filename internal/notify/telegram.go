package notify

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/hamed0406/noticerelay/internal/render"
)

// Telegram sends HTML messages to one chat through the Bot API.
type Telegram struct {
	settings  tele.Settings
	transport http.RoundTripper
	timeout   time.Duration
	chatID    tele.ChatID
}

// NewTelegram checks the settings with an offline bot (no getMe at startup).
// apiURL overrides the Bot API endpoint; empty means the public one.
func NewTelegram(token string, chatID int64, apiURL string, timeout time.Duration) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &Telegram{
		settings:  tele.Settings{URL: apiURL, Token: token, Offline: true},
		transport: http.DefaultTransport.(*http.Transport).Clone(),
		timeout:   timeout,
		chatID:    tele.ChatID(chatID),
	}
	if _, err := t.bot(timeout); err != nil {
		return nil, err
	}
	return t, nil
}

// bot returns an offline bot whose HTTP client gives up after d. The
// transport is shared so connections are reused across sends.
func (t *Telegram) bot(d time.Duration) (*tele.Bot, error) {
	s := t.settings
	s.Client = &http.Client{Timeout: d, Transport: t.transport}
	return tele.NewBot(s)
}

func (t *Telegram) Name() string { return "telegram" }

// Send never starts a request once ctx is done, and no request outlives the
// ctx deadline.
func (t *Telegram) Send(ctx context.Context, msg render.Message) error {
	if err := ctx.Err(); err != nil {
		return &SendError{Transport: "telegram", Err: err}
	}
	d := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return &SendError{Transport: "telegram", Err: context.DeadlineExceeded}
		}
		if left < d {
			d = left
		}
	}
	b, err := t.bot(d)
	if err != nil {
		return &SendError{Transport: "telegram", Err: err}
	}

	_, err = b.Send(t.chatID, formatTelegram(msg), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return &SendError{Transport: "telegram", StatusCode: telegramCode(err), Err: err}
	}
	return nil
}

func formatTelegram(msg render.Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(msg.Title))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(msg.Body))
	if msg.URL != "" {
		b.WriteString("\n<a href=\"")
		b.WriteString(html.EscapeString(msg.URL))
		b.WriteString("\">")
		b.WriteString(html.EscapeString(msg.URL))
		b.WriteString("</a>")
	}
	if msg.Footer != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(msg.Footer))
		b.WriteString("</i>")
	}
	return b.String()
}

func telegramCode(err error) int {
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code
	}
	return 0
}
