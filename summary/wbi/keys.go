package wbi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/liuran001/BiliSummary-Go/summary"
	"github.com/liuran001/BiliSummary-Go/summary/metrics"
)

// DefaultKeyTTL is how long fetched key material stays valid.
const DefaultKeyTTL = 12 * time.Hour

const refreshTimeout = 15 * time.Second

// ErrKeyMaterialUnavailable is returned when key fragments cannot be fetched
// or do not have the expected shape.
var ErrKeyMaterialUnavailable = errors.New("wbi: key material unavailable")

// Keys holds the two key fragments published by the nav endpoint.
type Keys struct {
	Img       string
	Sub       string
	FetchedAt time.Time
}

// MixinKey derives the mixin key from k.
func (k Keys) MixinKey() (string, error) {
	return MixinKey(k.Img, k.Sub)
}

// KeyFetcher fetches fresh key fragments from the upstream service.
type KeyFetcher interface {
	FetchWbiKeys(ctx context.Context) (Keys, error)
}

// KeyFetcherFunc adapts a function to KeyFetcher.
type KeyFetcherFunc func(ctx context.Context) (Keys, error)

func (f KeyFetcherFunc) FetchWbiKeys(ctx context.Context) (Keys, error) {
	return f(ctx)
}

type cachedKeys struct {
	keys      Keys
	mixin     string
	expiresAt time.Time
}

// KeyCache keeps the current key material and refreshes it on expiry.
// Concurrent callers that observe an expired entry share one refresh.
type KeyCache struct {
	fetcher KeyFetcher
	ttl     time.Duration
	logger  summary.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *cachedKeys
	group   singleflight.Group
}

// NewKeyCache creates a cache that refreshes through fetcher. A ttl <= 0
// selects DefaultKeyTTL.
func NewKeyCache(fetcher KeyFetcher, ttl time.Duration, logger summary.Logger) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyCache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// MixinKey returns the mixin key for the current key material.
func (c *KeyCache) MixinKey(ctx context.Context) (string, error) {
	entry, err := c.get(ctx)
	if err != nil {
		return "", err
	}
	return entry.mixin, nil
}

// Keys returns the current key fragments.
func (c *KeyCache) Keys(ctx context.Context) (Keys, error) {
	entry, err := c.get(ctx)
	if err != nil {
		return Keys{}, err
	}
	return entry.keys, nil
}

// ExpiresAt reports when the cached keys expire; zero when nothing is cached.
func (c *KeyCache) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return time.Time{}
	}
	return c.current.expiresAt
}

// Invalidate drops the cached keys.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *KeyCache) get(ctx context.Context) (*cachedKeys, error) {
	c.mu.RLock()
	entry := c.current
	c.mu.RUnlock()
	if entry != nil && c.now().Before(entry.expiresAt) {
		return entry, nil
	}

	// The refresh is shared, so one caller giving up must not cancel it for the rest.
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cachedKeys), nil
	}
}

func (c *KeyCache) refresh(ctx context.Context) (*cachedKeys, error) {
	c.mu.RLock()
	entry := c.current
	c.mu.RUnlock()
	if entry != nil && c.now().Before(entry.expiresAt) {
		return entry, nil
	}

	if c.fetcher == nil {
		metrics.WbiKeyRefresh.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: no key fetcher configured", ErrKeyMaterialUnavailable)
	}

	keys, err := c.fetcher.FetchWbiKeys(ctx)
	if err != nil {
		metrics.WbiKeyRefresh.WithLabelValues("error").Inc()
		if errors.Is(err, ErrKeyMaterialUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrKeyMaterialUnavailable, err)
	}
	mixin, err := keys.MixinKey()
	if err != nil {
		metrics.WbiKeyRefresh.WithLabelValues("error").Inc()
		return nil, err
	}

	now := c.now()
	if keys.FetchedAt.IsZero() {
		keys.FetchedAt = now
	}
	fresh := &cachedKeys{keys: keys, mixin: mixin, expiresAt: now.Add(c.ttl)}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()

	metrics.WbiKeyRefresh.WithLabelValues("ok").Inc()
	if c.logger != nil {
		c.logger.Debug("wbi: key material refreshed", "expires_at", fresh.expiresAt)
	}
	return fresh, nil
}
