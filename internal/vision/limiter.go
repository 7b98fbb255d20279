package vision

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// DefaultMaxConcurrency bounds in-flight provider calls per job.
const DefaultMaxConcurrency = 3

// Limiter bounds concurrent provider calls and, optionally, their rate.
type Limiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

// NewLimiter allows at most concurrency calls in flight (DefaultMaxConcurrency
// when <= 0) and at most rps calls per second (unlimited when <= 0).
func NewLimiter(concurrency int, rps float64) *Limiter {
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrency
	}
	l := &Limiter{sem: semaphore.NewWeighted(int64(concurrency))}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Acquire blocks until a slot is free. The returned func releases it.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, domain.CancellationError("waiting for provider slot", err)
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			l.sem.Release(1)
			return nil, domain.CancellationError("waiting for provider rate limit", err)
		}
	}
	return func() { l.sem.Release(1) }, nil
}

type limited struct {
	Provider
	l *Limiter
}

// Limited wraps p so every Describe and ExtractTable call holds a slot of l.
func Limited(p Provider, l *Limiter) Provider {
	if l == nil {
		return p
	}
	return &limited{Provider: p, l: l}
}

func (p *limited) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	release, err := p.l.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return p.Provider.Describe(ctx, img, prompt)
}

func (p *limited) ExtractTable(ctx context.Context, img Image, prompt string) (string, error) {
	release, err := p.l.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	if te, ok := p.Provider.(TableExtractor); ok {
		return te.ExtractTable(ctx, img, prompt)
	}
	return p.Provider.Describe(ctx, img, prompt)
}
