package collector

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/elonfeng/redditmon/pkg/source"
)

// Pacer inserts the delay between successive fetch calls. extra is any
// backoff requested by the previous fetch (for example after a 429).
type Pacer interface {
	Wait(ctx context.Context, extra time.Duration) error
}

// NoDelay never sleeps.
type NoDelay struct{}

func (NoDelay) Wait(context.Context, time.Duration) error { return nil }

// RandomDelay sleeps a uniform random duration in [Min, Max] plus extra.
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

func (d RandomDelay) Wait(ctx context.Context, extra time.Duration) error {
	wait := d.Min
	if d.Max > d.Min {
		wait += time.Duration(rand.Int64N(int64(d.Max - d.Min)))
	}
	wait += extra
	if wait <= 0 {
		return nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Gate spaces fetches across every collector that shares it. Fetches run
// one at a time; each one after the first waits for the pacer, plus any
// backoff the previous fetch reported, wherever that fetch ran.
type Gate struct {
	pacer Pacer

	mu      sync.Mutex
	used    bool
	backoff time.Duration
}

// NewGate creates a gate around p. A nil pacer never sleeps.
func NewGate(p Pacer) *Gate {
	if p == nil {
		p = NoDelay{}
	}
	return &Gate{pacer: p}
}

// Wrap returns a fetcher whose calls pass through the gate.
func (g *Gate) Wrap(f source.Fetcher) source.Fetcher {
	return &gatedFetcher{Fetcher: f, gate: g}
}

type gatedFetcher struct {
	source.Fetcher
	gate *Gate
}

func (f *gatedFetcher) Fetch(ctx context.Context, query string, window source.TimeWindow, limit int) ([]source.RawPost, error) {
	g := f.gate
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.used {
		if err := g.pacer.Wait(ctx, g.backoff); err != nil {
			return nil, err
		}
	}
	g.used = true
	g.backoff = 0

	raws, err := f.Fetcher.Fetch(ctx, query, window, limit)
	var rl *source.RateLimitError
	if errors.As(err, &rl) {
		g.backoff = rl.RetryAfter
	}
	return raws, err
}
