package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultWorkers     = 2
	defaultBuffer      = 256
	defaultSendTimeout = 10 * time.Second
)

// DispatcherOptions tunes the async delivery pool.
type DispatcherOptions struct {
	Workers     int
	Buffer      int
	SendTimeout time.Duration
}

type job struct {
	ctx context.Context
	n   Notification
}

// Dispatcher delivers notifications on background workers. Failures are logged
// and never retried.
type Dispatcher struct {
	sender  Sender
	logg    *logger.Logger
	timeout time.Duration
	queue   chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, logg *logger.Logger, opts DispatcherOptions) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("notification sender required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	d := &Dispatcher{
		sender:  sender,
		logg:    logg,
		timeout: timeout,
		queue:   make(chan job, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Notify enqueues the notification. The request context is detached so the
// send outlives the HTTP request while keeping its log fields.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logg.Warn(d.fields(ctx, n), "notification dropped after shutdown")
		return
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
	default:
		d.logg.Warn(d.fields(ctx, n), "notification queue full, dropping")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
		if err := d.sender.Send(ctx, j.n); err != nil {
			d.logg.Error(d.fields(ctx, j.n), "notification delivery failed", err)
		}
		cancel()
	}
}

func (d *Dispatcher) fields(ctx context.Context, n Notification) context.Context {
	return d.logg.WithFields(ctx, map[string]any{
		"notification_id": n.ID.String(),
		"kind":            n.Kind,
		"order_id":        n.OrderID.String(),
	})
}

// Close stops accepting work and waits for queued notifications to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
