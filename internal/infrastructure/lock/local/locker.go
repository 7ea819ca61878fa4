// Package local serialises namespace builds within one process.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// Lock fails fast with ErrBuildInProgress instead of waiting for the holder.
func (l *Locker) Lock(ctx context.Context, namespace string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[namespace]; ok {
		return nil, domain.WrapError(domain.ErrBuildInProgress, "lock "+namespace, errors.New("namespace is being built"))
	}
	l.held[namespace] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, namespace)
			l.mu.Unlock()
		})
	}, nil
}
