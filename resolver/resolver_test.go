package resolver_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/campusrouter/go-campuscache/phealth"
	"github.com/campusrouter/go-campuscache/rcache"
	"github.com/campusrouter/go-campuscache/resolver"
	"github.com/campusrouter/go-campuscache/upstream"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	name      string
	payload   []byte
	fail      atomic.Bool
	callFetch atomic.Int32
	callProbe atomic.Int32
	gate      chan struct{}
}

func (p *mockProvider) Name() string { return p.name }

func (p *mockProvider) Fetch(ctx context.Context, params upstream.Params) ([]byte, error) {
	p.callFetch.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail.Load() {
		return nil, errors.New("upstream exploded")
	}
	return p.payload, nil
}

func (p *mockProvider) Probe(ctx context.Context) error {
	p.callProbe.Add(1)
	if p.fail.Load() {
		return errors.New("probe failed")
	}
	return nil
}

type fixture struct {
	resolver *resolver.Resolver
	tracker  *phealth.Tracker
	cache    *rcache.Cache
}

// newFixture wires a resolver over mock providers, grouped per category in
// registration order.
func newFixture(t *testing.T, mck clock.Clock, sets map[resolver.Category][]*mockProvider, options ...resolver.Option) *fixture {
	t.Helper()

	cacheOpts := []rcache.Option{}
	if mck != nil {
		cacheOpts = append(cacheOpts, rcache.WithClock(mck))
	}
	cache, err := rcache.New(cacheOpts...)
	require.NoError(t, err)

	var probers []phealth.Prober
	for _, providers := range sets {
		for _, p := range providers {
			probers = append(probers, p)
		}
	}
	tracker, err := phealth.NewTracker(probers, phealth.WithProbeInterval(0))
	require.NoError(t, err)

	for category, providers := range sets {
		for _, p := range providers {
			options = append(options, resolver.WithProvider(category, p, nil))
		}
	}
	r, err := resolver.New(cache, tracker, options...)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	return &fixture{resolver: r, tracker: tracker, cache: cache}
}

func (f *fixture) health(t *testing.T, provider string) phealth.ProviderHealth {
	t.Helper()
	for _, ph := range f.resolver.HealthSnapshot() {
		if ph.Provider == provider {
			return ph
		}
	}
	t.Fatalf("no health record for %s", provider)
	return phealth.ProviderHealth{}
}

func routeRequest() resolver.Request {
	return resolver.Request{
		Category: resolver.Routes,
		Params: resolver.RouteParams(
			52.50718979876262, 13.331650735923587,
			52.51651497417413, 13.323818756533427,
			time.Date(2026, time.January, 20, 9, 3, 17, 0, time.UTC)),
	}
}

func TestResolveCachesResult(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte(`{"journeys":[]}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	ctx := context.Background()
	res, err := f.resolver.Resolve(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, "bvg", res.Provider)
	require.Equal(t, []byte(`{"journeys":[]}`), res.Payload)
	require.False(t, res.Stale)
	require.False(t, res.Empty)

	// Second resolve is a cache hit; no further upstream call.
	res2, err := f.resolver.Resolve(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, res.Payload, res2.Payload)
	require.Equal(t, int32(1), bvg.callFetch.Load())

	st := f.resolver.CacheStats()
	require.Equal(t, uint64(1), st.HitCount)
	require.Equal(t, uint64(1), st.ByCategory["routes"].Hits)
}

func TestSingleflightUniqueness(t *testing.T) {
	bvg := &mockProvider{
		name:    "bvg",
		payload: []byte(`{"journeys":[]}`),
		gate:    make(chan struct{}),
	}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	const callers = 20
	ctx := context.Background()
	results := make([]*resolver.Result, callers)
	errs := make([]error, callers)

	var start, done sync.WaitGroup
	for i := 0; i < callers; i++ {
		start.Add(1)
		done.Add(1)
		go func(i int) {
			start.Done()
			defer done.Done()
			results[i], errs[i] = f.resolver.Resolve(ctx, routeRequest())
		}(i)
	}
	start.Wait()
	// Let every caller reach the singleflight wait, then release the fetch.
	time.Sleep(50 * time.Millisecond)
	close(bvg.gate)
	done.Wait()

	require.Equal(t, int32(1), bvg.callFetch.Load(), "fetch must run exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Payload, results[i].Payload)
		require.Equal(t, "bvg", results[i].Provider)
	}
}

func TestFailoverBound(t *testing.T) {
	bvg := &mockProvider{name: "bvg"}
	bvg.fail.Store(true)
	vbb := &mockProvider{name: "vbb", payload: []byte(`{"journeys":["via vbb"]}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg, vbb},
	})

	res, err := f.resolver.Resolve(context.Background(), routeRequest())
	require.NoError(t, err)
	require.Equal(t, "vbb", res.Provider)

	require.Equal(t, int32(1), bvg.callFetch.Load())
	require.Equal(t, int32(1), vbb.callFetch.Load())
	require.Equal(t, 1, f.health(t, "bvg").ConsecutiveFailures)
	require.Equal(t, phealth.Healthy, f.health(t, "vbb").State)
	require.Zero(t, f.health(t, "vbb").ConsecutiveFailures)
}

func TestAllProvidersFail(t *testing.T) {
	bvg := &mockProvider{name: "bvg"}
	bvg.fail.Store(true)
	vbb := &mockProvider{name: "vbb"}
	vbb.fail.Store(true)
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg, vbb},
	})

	_, err := f.resolver.Resolve(context.Background(), routeRequest())
	require.ErrorIs(t, err, resolver.ErrUpstreamUnavailable)

	var attempt *resolver.AttemptError
	require.True(t, errors.As(err, &attempt))
	require.False(t, attempt.Timeout)

	// One failover hop, not an unbounded loop.
	require.Equal(t, int32(1), bvg.callFetch.Load())
	require.Equal(t, int32(1), vbb.callFetch.Load())
}

func TestUpstreamTimeout(t *testing.T) {
	bvg := &mockProvider{name: "bvg", gate: make(chan struct{})} // never released
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	}, resolver.WithCallTimeout(50*time.Millisecond))

	_, err := f.resolver.Resolve(context.Background(), routeRequest())
	require.ErrorIs(t, err, resolver.ErrUpstreamUnavailable)

	var attempt *resolver.AttemptError
	require.True(t, errors.As(err, &attempt))
	require.True(t, attempt.Timeout)
	require.Equal(t, "bvg", attempt.Provider)
	require.Equal(t, 1, f.health(t, "bvg").ConsecutiveFailures)
}

func TestNoProviderAvailable(t *testing.T) {
	bvg := &mockProvider{name: "bvg"}
	vbb := &mockProvider{name: "vbb"}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg, vbb},
	})

	for i := 0; i < 5; i++ {
		f.tracker.RecordFailure("bvg")
		f.tracker.RecordFailure("vbb")
	}

	_, err := f.resolver.Resolve(context.Background(), routeRequest())
	require.ErrorIs(t, err, resolver.ErrNoProviderAvailable)
	require.Zero(t, bvg.callFetch.Load(), "down providers receive no traffic")
	require.Zero(t, vbb.callFetch.Load())
}

func TestShortCircuitBelowMinTrip(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte(`{}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	// About 90 meters apart.
	req := resolver.Request{
		Category: resolver.Routes,
		Params: resolver.RouteParams(
			52.5070, 13.3316, 52.5078, 13.3317, time.Now()),
	}
	res, err := f.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Empty)
	require.Nil(t, res.Payload)

	require.Zero(t, bvg.callFetch.Load(), "short-circuit must not touch providers")
	st := f.resolver.CacheStats()
	require.Zero(t, st.EntryCount, "short-circuit must not write the cache")
	require.Zero(t, st.HitCount+st.MissCount, "short-circuit must not touch the cache")
}

func TestKeyNormalization(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte(`{}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	ctx := context.Background()
	departure := time.Date(2026, time.January, 20, 9, 0, 0, 0, time.UTC)

	// GPS jitter in the 6th decimal and a departure a few seconds later
	// must land on the same cache entry.
	_, err := f.resolver.Resolve(ctx, resolver.Request{
		Category: resolver.Routes,
		Params:   resolver.RouteParams(52.507189, 13.331649, 52.516514, 13.323818, departure),
	})
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, resolver.Request{
		Category: resolver.Routes,
		Params:   resolver.RouteParams(52.507151, 13.331644, 52.516483, 13.323790, departure.Add(90*time.Second)),
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), bvg.callFetch.Load())
}

func TestSubscriberCancellation(t *testing.T) {
	bvg := &mockProvider{
		name:    "bvg",
		payload: []byte(`{}`),
		gate:    make(chan struct{}),
	}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(context.Background(), routeRequest())
		leaderErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// A subscriber that gives up must not cancel the in-flight fetch.
	ctx, cancel := context.WithCancel(context.Background())
	subErr := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(ctx, routeRequest())
		subErr <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-subErr, context.Canceled)

	close(bvg.gate)
	require.NoError(t, <-leaderErr)

	// The abandoned fetch still populated the cache.
	res, err := f.resolver.Resolve(context.Background(), routeRequest())
	require.NoError(t, err)
	require.Equal(t, "bvg", res.Provider)
	require.Equal(t, int32(1), bvg.callFetch.Load())
}

func TestStaleFallback(t *testing.T) {
	mck := clock.NewMock()
	stw := &mockProvider{name: "stw", payload: []byte("<html>menu</html>")}
	f := newFixture(t, mck, map[resolver.Category][]*mockProvider{
		resolver.Menus: {stw},
	})

	ctx := context.Background()
	req := resolver.Request{
		Category: resolver.Menus,
		Params:   upstream.Params{"mensa": "hardenbergstrasse"},
	}
	res, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Stale)

	// Entry expires, the scrape starts failing: last week's menu is served
	// and marked stale.
	mck.Add(8 * 24 * time.Hour)
	stw.fail.Store(true)
	res, err = f.resolver.Resolve(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Stale)
	require.Equal(t, []byte("<html>menu</html>"), res.Payload)
	require.Equal(t, 1, f.health(t, "stw").ConsecutiveFailures)
}

func TestNoStaleForVolatileCategory(t *testing.T) {
	mck := clock.NewMock()
	nextbike := &mockProvider{name: "nextbike", payload: []byte(`{"countries":[]}`)}
	f := newFixture(t, mck, map[resolver.Category][]*mockProvider{
		resolver.Bikes: {nextbike},
	})

	ctx := context.Background()
	req := resolver.Request{
		Category: resolver.Bikes,
		Params:   resolver.NearbyParams(52.5090, 13.3323, 500),
	}
	_, err := f.resolver.Resolve(ctx, req)
	require.NoError(t, err)

	mck.Add(time.Minute)
	nextbike.fail.Store(true)
	_, err = f.resolver.Resolve(ctx, req)
	require.ErrorIs(t, err, resolver.ErrUpstreamUnavailable,
		"minute-old bike positions are not worth serving stale")
}

func TestNormalizerFailureTriggersFailover(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte("garbage")}
	vbb := &mockProvider{name: "vbb", payload: []byte(`{"journeys":[]}`)}

	rejectGarbage := func(raw []byte) ([]byte, error) {
		if string(raw) == "garbage" {
			return nil, errors.New("not a journeys document")
		}
		return raw, nil
	}

	cache, err := rcache.New()
	require.NoError(t, err)
	tracker, err := phealth.NewTracker([]phealth.Prober{bvg, vbb}, phealth.WithProbeInterval(0))
	require.NoError(t, err)
	r, err := resolver.New(cache, tracker,
		resolver.WithProvider(resolver.Routes, bvg, rejectGarbage),
		resolver.WithProvider(resolver.Routes, vbb, rejectGarbage),
	)
	require.NoError(t, err)
	defer r.Close()

	res, err := r.Resolve(context.Background(), routeRequest())
	require.NoError(t, err)
	require.Equal(t, "vbb", res.Provider)
	require.Equal(t, 1, f2health(t, r, "bvg").ConsecutiveFailures)
}

func f2health(t *testing.T, r *resolver.Resolver, provider string) phealth.ProviderHealth {
	t.Helper()
	for _, ph := range r.HealthSnapshot() {
		if ph.Provider == provider {
			return ph
		}
	}
	t.Fatalf("no health record for %s", provider)
	return phealth.ProviderHealth{}
}

func TestFetchRawNotCached(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte(`{"raw":true}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	ctx := context.Background()
	raw, err := f.resolver.FetchRaw(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, []byte(`{"raw":true}`), raw)

	_, err = f.resolver.FetchRaw(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, int32(2), bvg.callFetch.Load(), "raw path is never cached")
	require.Zero(t, f.resolver.CacheStats().EntryCount)
	require.False(t, f.health(t, "bvg").LastSuccess.IsZero())
}

func TestUnknownCategory(t *testing.T) {
	bvg := &mockProvider{name: "bvg"}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	_, err := f.resolver.Resolve(context.Background(), resolver.Request{Category: "scooters"})
	require.Error(t, err)
	_, err = f.resolver.FetchRaw(context.Background(), resolver.Request{Category: "scooters"})
	require.Error(t, err)
}

func TestClearCache(t *testing.T) {
	bvg := &mockProvider{name: "bvg", payload: []byte(`{}`)}
	f := newFixture(t, nil, map[resolver.Category][]*mockProvider{
		resolver.Routes: {bvg},
	})

	ctx := context.Background()
	_, err := f.resolver.Resolve(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, 1, f.resolver.CacheStats().EntryCount)

	f.resolver.ClearCache(ctx)
	require.Zero(t, f.resolver.CacheStats().EntryCount)

	_, err = f.resolver.Resolve(ctx, routeRequest())
	require.NoError(t, err)
	require.Equal(t, int32(2), bvg.callFetch.Load())
}
