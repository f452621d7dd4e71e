package cache

import (
	"context"
	"errors"
	"time"
)

// Layered checks a fast front cache before a shared back cache. Back-cache
// hits are copied into the front cache.
type Layered struct {
	front    Provider
	back     Provider
	frontTTL time.Duration
}

// NewLayered stacks front over back. Promoted entries live frontTTL in front.
func NewLayered(front, back Provider, frontTTL time.Duration) *Layered {
	return &Layered{front: front, back: back, frontTTL: frontTTL}
}

// Get checks front first, then back.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, error) {
	if val, err := l.front.Get(ctx, key); err == nil {
		return val, nil
	}

	val, err := l.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = l.front.Set(ctx, key, val, l.frontTTL)
	return val, nil
}

// Set writes to both layers. A back-cache error is returned after the front
// cache has been written.
func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	frontTTL := l.frontTTL
	if ttl > 0 && (frontTTL <= 0 || ttl < frontTTL) {
		frontTTL = ttl
	}
	_ = l.front.Set(ctx, key, value, frontTTL)
	return l.back.Set(ctx, key, value, ttl)
}

// Close closes both layers.
func (l *Layered) Close() error {
	return errors.Join(l.front.Close(), l.back.Close())
}
