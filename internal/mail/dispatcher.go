// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

// Package mail delivers outbound email off the request path.
//
// A Dispatcher accepts messages into a bounded queue without blocking and a
// fixed set of workers sends them, retrying transient failures with
// exponential backoff.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/observability"
)

// Dispatcher defaults.
const (
	DefaultQueueSize      = 256
	DefaultWorkers        = 2
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

var (
	// ErrQueueFull is returned by Notify when the queue has no room.
	ErrQueueFull = errors.New("mail queue full")
	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("mail dispatcher closed")
)

// Options tunes a Dispatcher. Zero values select the defaults.
type Options struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	Logger         *slog.Logger
	Metrics        *observability.Metrics
}

// Dispatcher is an auth.Notifier backed by a worker pool.
type Dispatcher struct {
	sender  Sender
	opts    Options
	queue   chan auth.Message
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDispatcher starts the workers.
func NewDispatcher(sender Sender, opts Options) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_DISPATCHER_INVALID").Errorf("sender is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:  sender,
		opts:    opts,
		queue:   make(chan auth.Message, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  opts.Logger.With("component", "mail"),
		metrics: opts.Metrics,
	}
	for range opts.Workers {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Notify queues msg and returns immediately. It fails only when the queue is
// full or the dispatcher is closed; delivery errors are logged by the workers.
func (d *Dispatcher) Notify(ctx context.Context, msg auth.Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("MAIL_DISPATCHER_CLOSED").Wrap(ErrClosed)
	}
	select {
	case d.queue <- msg:
		d.metrics.SetMailQueueDepth(len(d.queue))
		return nil
	default:
		d.metrics.MailDelivery("dropped")
		d.logger.WarnContext(ctx, "mail dropped, queue full", "queue_size", d.opts.QueueSize)
		return oops.Code("MAIL_QUEUE_FULL").With("queue_size", d.opts.QueueSize).Wrap(ErrQueueFull)
	}
}

// Close stops accepting messages and waits for queued ones to be sent. When
// ctx ends first, Close returns ctx's error at once; in-flight sends are
// canceled and the workers exit in the background.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.metrics.SetMailQueueDepth(0)
		return nil
	case <-ctx.Done():
		d.cancel()
		return oops.Code("MAIL_DRAIN_INCOMPLETE").Wrap(ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.metrics.SetMailQueueDepth(len(d.queue))
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg auth.Message) {
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(d.opts.MaxAttempts-1), retry.NewExponential(d.opts.InitialBackoff)) //nolint:gosec // MaxAttempts is positive
	err := retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := d.sender.Send(ctx, msg)
		if err == nil || errors.Is(err, ErrPermanent) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		d.metrics.MailDelivery("failed")
		d.logger.Error("mail delivery failed",
			"subject", msg.Subject,
			"attempts", attempts,
			"error", err)
		return
	}
	d.metrics.MailDelivery("sent")
	d.logger.Debug("mail sent", "subject", msg.Subject, "attempts", attempts)
}

// Compile-time interface check.
var _ auth.Notifier = (*Dispatcher)(nil)
