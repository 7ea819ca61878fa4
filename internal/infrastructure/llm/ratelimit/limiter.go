// Package ratelimit throttles calls to hosted model APIs on the client side.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// DefaultCooldown is how long calls pause after the backend reports a rate limit.
const DefaultCooldown = 10 * time.Second

// Limiter is a token bucket with a cooldown that starts whenever a call comes
// back rate limited.
type Limiter struct {
	limiter  *rate.Limiter
	cooldown time.Duration

	mu      sync.Mutex
	retryAt time.Time
}

func NewLimiter(requestsPerSecond float64, burst int, cooldown time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, burst),
		cooldown: cooldown,
	}
}

// Wait blocks until a call may be made.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Observe starts a cooldown when err says the backend rate limited us.
func (l *Limiter) Observe(err error) {
	if !domain.IsKind(err, domain.ErrRateLimited) || l.cooldown <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryAt = time.Now().Add(l.cooldown)
}

type Embedder struct {
	next    ports.Embedder
	limiter *Limiter
}

func NewEmbedder(next ports.Embedder, limiter *Limiter) *Embedder {
	return &Embedder{next: next, limiter: limiter}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "wait for embedding quota", err)
	}
	vectors, err := e.next.Embed(ctx, texts)
	e.limiter.Observe(err)
	return vectors, err
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "wait for embedding quota", err)
	}
	vector, err := e.next.EmbedQuery(ctx, text)
	e.limiter.Observe(err)
	return vector, err
}

type Generator struct {
	next    ports.Generator
	limiter *Limiter
}

func NewGenerator(next ports.Generator, limiter *Limiter) *Generator {
	return &Generator{next: next, limiter: limiter}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", domain.WrapError(domain.ErrGenerationService, "wait for generation quota", err)
	}
	out, err := g.next.Generate(ctx, prompt, maxTokens)
	g.limiter.Observe(err)
	return out, err
}
