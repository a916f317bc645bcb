// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package mail_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/internal/mail"
	"github.com/storefront/storefront/internal/observability"
	"github.com/storefront/storefront/pkg/errutil"
)

// senderFunc adapts a function to mail.Sender.
type senderFunc func(ctx context.Context, msg auth.Message) error

func (f senderFunc) Send(ctx context.Context, msg auth.Message) error { return f(ctx, msg) }

// recordingSender collects delivered messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []auth.Message
}

func (r *recordingSender) Send(_ context.Context, msg auth.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestNewDispatcher_RequiresSender(t *testing.T) {
	d, err := mail.NewDispatcher(nil, mail.Options{})
	assert.Nil(t, d)
	errutil.AssertErrorCode(t, err, "MAIL_DISPATCHER_INVALID")
}

func TestDispatcher_DeliversQueuedMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &recordingSender{}
	metrics := newMetrics()
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 3, Metrics: metrics})
	require.NoError(t, err)

	ctx := context.Background()
	for range 10 {
		require.NoError(t, d.Notify(ctx, auth.Message{To: "alice@x.com", Subject: "hi"}))
	}
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, 10, sender.count())
	assert.InDelta(t, 10, testutil.ToFloat64(metrics.MailDeliveries.WithLabelValues("sent")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.MailQueueDepth), 0)
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, err := mail.NewDispatcher(&recordingSender{}, mail.Options{})
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	err = d.Notify(context.Background(), auth.Message{To: "alice@x.com"})
	assert.ErrorIs(t, err, mail.ErrClosed)
	errutil.AssertErrorCode(t, err, "MAIL_DISPATCHER_CLOSED")

	// Closing twice is a no-op.
	assert.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_QueueFullDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	sender := senderFunc(func(context.Context, auth.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	metrics := newMetrics()
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 1, QueueSize: 1, Metrics: metrics})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Notify(ctx, auth.Message{To: "a@x.com"}))
	<-started
	require.NoError(t, d.Notify(ctx, auth.Message{To: "b@x.com"}))

	err = d.Notify(ctx, auth.Message{To: "c@x.com"})
	assert.ErrorIs(t, err, mail.ErrQueueFull)
	errutil.AssertErrorCode(t, err, "MAIL_QUEUE_FULL")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MailDeliveries.WithLabelValues("dropped")), 0)

	close(release)
	require.NoError(t, d.Close(ctx))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.MailDeliveries.WithLabelValues("sent")), 0)
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	sender := senderFunc(func(context.Context, auth.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	metrics := newMetrics()
	d, err := mail.NewDispatcher(sender, mail.Options{
		Workers:        1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Metrics:        metrics,
	})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int32(3), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MailDeliveries.WithLabelValues("sent")), 0)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	sender := senderFunc(func(context.Context, auth.Message) error {
		calls.Add(1)
		return errors.New("timeout")
	})
	metrics := newMetrics()
	d, err := mail.NewDispatcher(sender, mail.Options{
		Workers:        1,
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Metrics:        metrics,
	})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.MailDeliveries.WithLabelValues("failed")), 0)
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	sender := senderFunc(func(context.Context, auth.Message) error {
		calls.Add(1)
		return errors.Join(mail.ErrPermanent, errors.New("550 mailbox unavailable"))
	})
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 1, MaxAttempts: 5, InitialBackoff: time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcher_CloseDeadlineAbandonsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, _ auth.Message) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 1, MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	errutil.AssertErrorCode(t, err, "MAIL_DRAIN_INCOMPLETE")
}

func TestDispatcher_CloseHonoursDeadlineWhenSenderHangs(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	sender := senderFunc(func(context.Context, auth.Message) error {
		close(started)
		<-release
		return nil
	})
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 1, MaxAttempts: 1})
	require.NoError(t, err)
	defer close(release)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = d.Close(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	errutil.AssertErrorCode(t, err, "MAIL_DRAIN_INCOMPLETE")
}

func TestDispatcher_CloseWithSilentSMTPRelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()
	defer func() {
		_ = ln.Close()
		if conn, ok := <-accepted; ok {
			_ = conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		From:    "shop@example.com",
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	d, err := mail.NewDispatcher(sender, mail.Options{Workers: 1, MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, d.Notify(context.Background(), auth.Message{To: "a@x.com", Subject: "hi", HTML: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = d.Close(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	errutil.AssertErrorCode(t, err, "MAIL_DRAIN_INCOMPLETE")
}
