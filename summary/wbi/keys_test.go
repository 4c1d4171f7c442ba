package wbi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func countingFetcher(calls *int32) KeyFetcher {
	return KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		atomic.AddInt32(calls, 1)
		return Keys{Img: testImgKey, Sub: testSubKey}, nil
	})
}

func TestKeyCacheTTL(t *testing.T) {
	var calls int32
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewKeyCache(countingFetcher(&calls), 0, nil)
	cache.now = clock.Now

	assert.True(t, cache.ExpiresAt().IsZero())

	mixin, err := cache.MixinKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testMixin, mixin)
	assert.Equal(t, clock.now.Add(DefaultKeyTTL), cache.ExpiresAt())

	keys, err := cache.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testImgKey, keys.Img)
	assert.Equal(t, clock.now, keys.FetchedAt)

	clock.Advance(DefaultKeyTTL - time.Second)
	_, err = cache.MixinKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	clock.Advance(time.Second)
	_, err = cache.MixinKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "expired keys must be refreshed")
}

func TestKeyCacheInvalidate(t *testing.T) {
	var calls int32
	cache := NewKeyCache(countingFetcher(&calls), time.Hour, nil)

	_, err := cache.MixinKey(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	assert.True(t, cache.ExpiresAt().IsZero())

	_, err = cache.MixinKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestKeyCacheConcurrentRefreshSharesFetch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	fetcher := KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Keys{Img: testImgKey, Sub: testSubKey}, nil
	})
	cache := NewKeyCache(fetcher, time.Hour, nil)

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.MixinKey(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, testMixin, results[i])
	}
}

func TestKeyCacheFetchError(t *testing.T) {
	cause := errors.New("nav: connection refused")
	cache := NewKeyCache(KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		return Keys{}, cause
	}), time.Hour, nil)

	_, err := cache.MixinKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyMaterialUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, cache.ExpiresAt().IsZero())
}

func TestKeyCacheRejectsMalformedKeys(t *testing.T) {
	cache := NewKeyCache(KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		return Keys{Img: "short", Sub: testSubKey}, nil
	}), time.Hour, nil)

	_, err := cache.MixinKey(context.Background())
	assert.True(t, errors.Is(err, ErrKeyMaterialUnavailable))
}

func TestKeyCacheNilFetcher(t *testing.T) {
	_, err := NewKeyCache(nil, time.Hour, nil).MixinKey(context.Background())
	assert.True(t, errors.Is(err, ErrKeyMaterialUnavailable))
}

func TestKeyCacheCallerCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cache := NewKeyCache(KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		<-release
		return Keys{Img: testImgKey, Sub: testSubKey}, nil
	}), time.Hour, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.MixinKey(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSignerSignsWithCachedKeys(t *testing.T) {
	var calls int32
	signer := NewSigner(NewKeyCache(countingFetcher(&calls), time.Hour, nil), nil)
	signer.now = func() time.Time { return time.Unix(1702204169, 0) }

	in := Params{"foo": "114", "bar": "514", "zab": 1919810}
	signed := signer.Sign(context.Background(), in)
	assert.Equal(t, "8f6f2b5b3d485fe1886cec6a0be8c5d4", signed.Get(ParamSignature))
	assert.Equal(t, "1702204169", signed.Get(ParamTimestamp))
	assert.NotContains(t, in, ParamSignature)

	signer.Invalidate()
	signer.Sign(context.Background(), in)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSignerDegradesToUnsigned(t *testing.T) {
	signer := NewSigner(NewKeyCache(KeyFetcherFunc(func(ctx context.Context) (Keys, error) {
		return Keys{}, errors.New("nav unavailable")
	}), time.Hour, nil), nil)

	in := Params{"oid": 1, "type": 1}
	out := signer.Sign(context.Background(), in)
	assert.Equal(t, in, out)
	assert.NotContains(t, out, ParamSignature)
	assert.NotContains(t, out, ParamTimestamp)

	out["extra"] = true
	assert.NotContains(t, in, "extra", "unsigned result must be a copy")

	var nilSigner *Signer
	assert.Equal(t, in, nilSigner.Sign(context.Background(), in))
	nilSigner.Invalidate()
}
