// Package rulescache caches the verified governance rules container.
//
// The cache holds a single entry. When it is absent or expired, one caller
// fetches, verifies and decodes a fresh container while concurrent callers
// wait for that result. Entries are replaced atomically and never mutated.
package rulescache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/governance"
	"github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rules"
)

// DefaultTTL is how long a verified container is served before refreshing.
const DefaultTTL = 5 * time.Minute

const flightKey = "rules"

// FetchFunc retrieves the current signed rules container. Timeouts and
// retries are its concern.
type FetchFunc func(ctx context.Context) (*rules.SignedContainer, error)

// Entry is a verified container and its validity window.
type Entry struct {
	Container *rules.DecodedRulesContainer
	Raw       []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

func (e *Entry) live(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// Cache is a read-through cache of the verified rules container.
type Cache struct {
	ttl      time.Duration
	now      func() time.Time
	verifier *governance.RulesVerifier
	logger   *slog.Logger

	flights    singleflight.Group
	entry      atomic.Pointer[Entry]
	generation atomic.Uint64

	refreshes metric.Int64Counter
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Cache) {
		if mp == nil {
			return
		}
		var err error
		c.refreshes, err = newRefreshCounter(mp)
		if err != nil {
			c.logger.Warn("rules cache refresh counter unavailable", "error", err)
		}
	}
}

// New creates a cache that only stores containers approved by verifier.
func New(verifier *governance.RulesVerifier, opts ...Option) (*Cache, error) {
	if verifier == nil {
		return nil, errors.New("rulescache: rules verifier is required")
	}
	c := &Cache{
		ttl:      DefaultTTL,
		now:      time.Now,
		verifier: verifier,
		logger:   slog.Default().With("component", "rulescache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refreshes == nil {
		var err error
		if c.refreshes, err = newRefreshCounter(otel.GetMeterProvider()); err != nil {
			return nil, fmt.Errorf("rulescache: %w", err)
		}
	}
	return c, nil
}

func newRefreshCounter(mp metric.MeterProvider) (metric.Int64Counter, error) {
	return mp.Meter("github.com/taurushq-io/taurus-protect-sdk-sub009/pkg/rulescache").Int64Counter(
		"protect.rules_cache.refresh.total",
		metric.WithDescription("Rules container refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached container, refreshing it through fetch when it is
// absent or expired. Concurrent callers share one refresh. If ctx ends
// while waiting, Get returns ctx.Err() but the refresh carries on for the
// other waiters.
func (c *Cache) Get(ctx context.Context, fetch FetchFunc) (*rules.DecodedRulesContainer, error) {
	if e := c.entry.Load(); e.live(c.now()) {
		return e.Container, nil
	}
	e, err := c.refresh(ctx, fetch, false)
	if err != nil {
		return nil, err
	}
	return e.Container, nil
}

// Refresh fetches a new container even if the current one is live. On
// failure the current entry is left in place.
func (c *Cache) Refresh(ctx context.Context, fetch FetchFunc) (*Entry, error) {
	return c.refresh(ctx, fetch, true)
}

// Current returns the stored entry, live or not, or nil.
func (c *Cache) Current() *Entry {
	return c.entry.Load()
}

// Invalidate drops the entry; the next Get refreshes. A refresh already in
// flight completes for its waiters but its result is not stored.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.entry.Store(nil)
	c.logger.Info("rules cache invalidated")
}

// Verifier returns the SuperAdmin verifier entries are checked with.
func (c *Cache) Verifier() *governance.RulesVerifier {
	return c.verifier
}

// refresh runs at most one fetch at a time. Get and Refresh share the flight:
// a forced refresh that finds a fetch already running waits for it instead of
// starting another.
func (c *Cache) refresh(ctx context.Context, fetch FetchFunc, force bool) (*Entry, error) {
	if fetch == nil {
		return nil, errors.New("rulescache: fetch function is required")
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		if !force {
			if e := c.entry.Load(); e.live(c.now()) {
				return e, nil
			}
		}
		return c.load(flightCtx, fetch, c.generation.Load())
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	}
}

// load runs fetch, verification and decoding. The entry is stored only if
// no invalidation happened since the refresh began.
func (c *Cache) load(ctx context.Context, fetch FetchFunc, gen uint64) (*Entry, error) {
	start := c.now()
	e, err := c.fetchVerified(ctx, fetch)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		c.logger.WarnContext(ctx, "rules container refresh failed", "error", err)
		return nil, err
	}
	if c.generation.Load() == gen {
		c.entry.Store(e)
	}
	c.logger.InfoContext(ctx, "rules container refreshed",
		"users", len(e.Container.Users),
		"groups", len(e.Container.Groups),
		"duration", c.now().Sub(start),
		"expires_at", e.ExpiresAt,
	)
	return e, nil
}

func (c *Cache) fetchVerified(ctx context.Context, fetch FetchFunc) (*Entry, error) {
	signed, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch rules container: %w", err)
	}
	if signed == nil {
		return nil, errors.New("fetch rules container: empty response")
	}
	raw, err := c.verifier.Verify(signed.RulesContainer, signed.RulesSignatures)
	if err != nil {
		return nil, err
	}
	container, err := rules.DecodeBytes(raw)
	if err != nil {
		return nil, err
	}
	now := c.now()
	return &Entry{Container: container, Raw: raw, FetchedAt: now, ExpiresAt: now.Add(c.ttl)}, nil
}
