package ratelimit

import (
	"context"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

// RateLimiter controls outbound notification throughput per delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

// Noop never throttles. It is used when no shared limiter is configured.
type Noop struct{}

func (Noop) Allow(context.Context, domain.Channel) (bool, error) { return true, nil }

func (Noop) Wait(ctx context.Context, _ domain.Channel) error { return ctx.Err() }
