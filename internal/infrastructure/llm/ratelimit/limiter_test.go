package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type stubEmbedder struct {
	calls int
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedderPassesThrough(t *testing.T) {
	next := &stubEmbedder{}
	e := NewEmbedder(next, NewLimiter(0, 1, 0))

	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil || len(vectors) != 2 {
		t.Fatalf("Embed() = %v, %v", vectors, err)
	}
	if _, err := e.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", next.calls)
	}
}

func TestRateLimitedResponseStartsCooldown(t *testing.T) {
	next := &stubEmbedder{err: domain.WrapKinds("embed", errors.New("429"), domain.ErrEmbeddingService, domain.ErrRateLimited)}
	e := NewEmbedder(next, NewLimiter(0, 1, time.Hour))

	if _, err := e.Embed(context.Background(), []string{"a"}); !domain.IsKind(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Embed(ctx, []string{"a"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to hit the deadline during cooldown, got %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected no call during cooldown, got %d calls", next.calls)
	}
}

func TestLimiterWaitHonoursRate(t *testing.T) {
	l := NewLimiter(1, 1, 0)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("expected second Wait() to exceed the short deadline")
	}
}
