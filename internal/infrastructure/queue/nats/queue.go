// Package nats carries build requests from the API to the workers over a NATS
// queue group, so each request is processed by exactly one worker.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/compliance-rag/internal/infrastructure/resilience"
)

const (
	workerGroup       = "build-workers"
	headerRequestedAt = "Crag-Requested-At"
	publishOperation  = "nats.publish"
	drainFlushTimeout = 5 * time.Second
)

type Queue struct {
	conn           *nats.Conn
	subject        string
	executor       *resilience.Executor
	handlerTimeout time.Duration
	now            func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// HandlerTimeout bounds one build; zero means no limit.
	HandlerTimeout time.Duration
}

func (o Options) natsOptions() []nats.Option {
	connectTimeout := o.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := o.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := o.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retry := true
	if o.RetryOnFailedConnect != nil {
		retry = *o.RetryOnFailedConnect
	}
	return []nats.Option{
		nats.Name("compliance-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retry),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	}
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	conn, err := nats.Connect(url, options.natsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		executor:       options.ResilienceExecutor,
		handlerTimeout: options.HandlerTimeout,
		now:            time.Now,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishBuildRequested enqueues buildID. Broker outages surface as ErrTemporary.
func (q *Queue) PublishBuildRequested(ctx context.Context, buildID string) error {
	msg := nats.NewMsg(q.subject)
	msg.Data = []byte(buildID)
	msg.Header.Set(headerRequestedAt, q.now().UTC().Format(time.RFC3339Nano))

	publish := func(context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, publishOperation, publish, classifyNATSError)
	} else {
		err = publish(ctx)
	}
	return publishError(err)
}

// SubscribeBuildRequested blocks until ctx is done, then drains the subscription.
func (q *Queue) SubscribeBuildRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		q.dispatch(ctx, handler, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainFlushTimeout); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) dispatch(ctx context.Context, handler func(context.Context, string) error, msg *nats.Msg) {
	buildID := strings.TrimSpace(string(msg.Data))
	if buildID == "" {
		slog.WarnContext(ctx, "build_request_dropped", "reason", "empty build id")
		return
	}
	if at, err := time.Parse(time.RFC3339Nano, msg.Header.Get(headerRequestedAt)); err == nil {
		slog.DebugContext(ctx, "build_request_received", "build_id", buildID, "queued_ms", q.now().Sub(at).Milliseconds())
	}
	q.handle(ctx, handler, buildID)
}

func (q *Queue) handle(ctx context.Context, handler func(context.Context, string) error, buildID string) {
	handlerCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.handlerTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, q.handlerTimeout)
	}
	defer cancel()

	if err := handler(handlerCtx, buildID); err != nil {
		slog.ErrorContext(ctx, "build_handler_failed", "build_id", buildID, "error", err)
	}
}
