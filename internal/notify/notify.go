// Package notify delivers rendered announcements to a chat destination.
package notify

import (
	"context"
	"fmt"

	"github.com/hamed0406/noticerelay/internal/render"
)

// Notifier is one chat transport.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg render.Message) error
}

// SendError is a failed delivery. StatusCode is 0 when no response arrived.
type SendError struct {
	Transport  string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s send: status %d: %v", e.Transport, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s send: %v", e.Transport, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
