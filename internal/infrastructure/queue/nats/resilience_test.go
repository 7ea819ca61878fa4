package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"stale", nats.ErrStaleConnection, true, true},
		{"cancelled", context.Canceled, false, false},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classifyNATSError(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestPublishError(t *testing.T) {
	err := publishError(nats.ErrConnectionClosed)
	if !domain.IsKind(err, domain.ErrTemporary) || !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected temporary unavailable broker, got %v", err)
	}
	plain := publishError(errors.New("bad payload"))
	if domain.IsKind(plain, domain.ErrTemporary) {
		t.Fatalf("permanent errors must not become temporary")
	}
	if !domain.IsKind(plain, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", plain)
	}
	if publishError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestHandleAppliesTimeout(t *testing.T) {
	q := &Queue{handlerTimeout: 20 * time.Millisecond}

	var gotID string
	var deadline bool
	q.handle(context.Background(), func(ctx context.Context, id string) error {
		gotID = id
		_, deadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	}, "build-1")

	if gotID != "build-1" || !deadline {
		t.Fatalf("handler got id=%q deadline=%v", gotID, deadline)
	}
}

func TestDispatchTrimsAndDropsEmptyIDs(t *testing.T) {
	q := &Queue{now: time.Now}

	var got []string
	handler := func(_ context.Context, id string) error {
		got = append(got, id)
		return nil
	}

	msg := nats.NewMsg("indexes.build")
	msg.Data = []byte(" build-7\n")
	msg.Header.Set(headerRequestedAt, time.Now().Add(-time.Second).UTC().Format(time.RFC3339Nano))
	q.dispatch(context.Background(), handler, msg)

	empty := nats.NewMsg("indexes.build")
	empty.Data = []byte("  ")
	q.dispatch(context.Background(), handler, empty)

	if len(got) != 1 || got[0] != "build-7" {
		t.Fatalf("unexpected dispatched ids %v", got)
	}
}
