package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/hamed0406/noticerelay/internal/domain"
	"github.com/hamed0406/noticerelay/internal/metrics"
	"github.com/hamed0406/noticerelay/internal/render"
)

const DefaultTimeout = 10 * time.Second

// Dispatcher renders an announcement and hands it to the notifier, bounded
// by a send rate and a per-attempt timeout.
type Dispatcher struct {
	notifier Notifier
	renderer *render.Renderer
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewDispatcher wires a notifier. ratePerSec <= 0 disables limiting.
func NewDispatcher(n Notifier, r *render.Renderer, ratePerSec float64, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{notifier: n, renderer: r, timeout: timeout}
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return d
}

// Deliver makes one attempt. Any failure, timeout included, is a *SendError.
func (d *Dispatcher) Deliver(ctx context.Context, a domain.Announcement, p domain.Presentation) error {
	msg := d.renderer.Render(a, p)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return &SendError{Transport: d.notifier.Name(), Err: err}
		}
	}

	start := time.Now()
	err := d.notifier.Send(ctx, msg)
	metrics.RecordSendDuration(time.Since(start))
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return err
	}
	return &SendError{Transport: d.notifier.Name(), Err: err}
}
