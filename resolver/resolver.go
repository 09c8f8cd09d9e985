package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campusrouter/go-campuscache/phealth"
	"github.com/campusrouter/go-campuscache/rcache"
	"github.com/campusrouter/go-campuscache/upstream"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"
)

var log = logging.Logger("resolver")

// At most one failover hop per request: the preferred provider plus one
// alternate, never an unbounded retry loop.
const maxAttempts = 2

// Result is the unified result shape for all categories. Payload holds the
// normalized response document of whichever provider served the request.
// Stale marks a result served from an expired cache entry after upstream
// failure; Empty marks the short-circuit answer for trips below the minimum
// distance. Neither flag is ever set silently.
type Result struct {
	Category  Category  `json:"category"`
	Provider  string    `json:"provider,omitempty"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Stale     bool      `json:"-"`
	Empty     bool      `json:"-"`
}

func decodeResult(value []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(value, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Resolver orchestrates logical requests across the cache, the singleflight
// path, the health tracker and the per-category provider sets. All methods
// are safe for concurrent use.
type Resolver struct {
	cache   *rcache.Cache
	tracker *phealth.Tracker

	sets     map[Category][]registration
	setIDs   map[Category][]string
	policies map[Category]Policy

	callTimeout   time.Duration
	minTripMeters float64

	sf singleflight.Group
}

// New creates a resolver over an injected cache and health tracker. At
// least one provider must be registered, and every registered category
// needs a freshness policy.
func New(cache *rcache.Cache, tracker *phealth.Tracker, options ...Option) (*Resolver, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		return nil, errors.New("cache required")
	}
	if tracker == nil {
		return nil, errors.New("health tracker required")
	}
	if len(opts.sets) == 0 {
		return nil, errors.New("no providers registered")
	}

	setIDs := make(map[Category][]string, len(opts.sets))
	for category, set := range opts.sets {
		if _, ok := opts.policies[category]; !ok {
			return nil, fmt.Errorf("no freshness policy for category %s", category)
		}
		ids := make([]string, len(set))
		for i, reg := range set {
			ids[i] = reg.provider.Name()
		}
		setIDs[category] = ids
	}

	return &Resolver{
		cache:         cache,
		tracker:       tracker,
		sets:          opts.sets,
		setIDs:        setIDs,
		policies:      opts.policies,
		callTimeout:   opts.callTimeout,
		minTripMeters: opts.minTripMeters,
	}, nil
}

// Resolve answers a logical request. The cache is consulted first; on a
// miss, concurrent requests for the same key are collapsed into a single
// upstream fetch whose outcome every waiter receives. A caller whose
// context is canceled while waiting abandons the wait; the fetch itself
// carries on for the remaining waiters.
//
// Do not modify the returned Result.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if _, ok := r.sets[req.Category]; !ok {
		return nil, fmt.Errorf("unknown category: %q", req.Category)
	}

	if r.belowMinTrip(req.Params) {
		// Cheap deterministic rule: no provider call, no cache entry.
		return &Result{Category: req.Category, Empty: true}, nil
	}

	key := req.cacheKey()
	if value, ok := r.cache.Get(ctx, key); ok {
		res, err := decodeResult(value)
		if err == nil {
			return res, nil
		}
		log.Errorw("Dropping undecodable cache entry", "err", err, "key", key)
		r.cache.Invalidate(ctx, key)
	}

	ch := r.sf.DoChan(key, func() (interface{}, error) {
		return r.fetch(key, req)
	})
	select {
	case sfres := <-ch:
		if sfres.Err != nil {
			return nil, sfres.Err
		}
		return sfres.Val.(*Result), nil
	case <-ctx.Done():
		// Abandon the wait only for this caller. The leader keeps running
		// so other subscribers still get their result.
		return nil, ctx.Err()
	}
}

// FetchRaw answers a logical request with the selected provider's raw,
// unnormalized response document. This path is never cached and never
// deduplicated; it exists for diagnostic passthrough. Provider health is
// still recorded.
func (r *Resolver) FetchRaw(ctx context.Context, req Request) ([]byte, error) {
	if _, ok := r.sets[req.Category]; !ok {
		return nil, fmt.Errorf("unknown category: %q", req.Category)
	}
	id, raw, err := r.callEligible(ctx, req, false)
	if err != nil {
		return nil, err
	}
	r.tracker.RecordSuccess(id)
	return raw, nil
}

// CacheStats reports cache counters.
func (r *Resolver) CacheStats() rcache.Stats {
	return r.cache.Stats()
}

// SweepExpired removes expired cache entries and returns the count removed.
func (r *Resolver) SweepExpired() int {
	return r.cache.SweepExpired()
}

// ClearCache removes every cache entry from every tier and resets cache
// counters. Operationally dangerous; callers must opt in explicitly.
func (r *Resolver) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx)
}

// HealthSnapshot reports the health record of every tracked provider.
func (r *Resolver) HealthSnapshot() []phealth.ProviderHealth {
	return r.tracker.Snapshot()
}

// Close shuts down the health tracker's probe loop and waits for the
// cache's pending durable writes.
func (r *Resolver) Close() {
	r.tracker.Close()
	r.cache.Close()
}

// fetch is the singleflight leader body: call upstream, normalize, store,
// record. The cache write completes before the leader returns, so released
// subscribers never observe a miss for the key they waited on. When every
// attempt fails, a category that allows stale fallback may serve the
// expired entry, explicitly marked.
func (r *Resolver) fetch(key string, req Request) (*Result, error) {
	// The leader is detached from any one subscriber's context; a caller
	// abandoning the wait must not cancel the fetch others still need.
	id, payload, callErr := r.callEligible(context.Background(), req, true)
	if callErr != nil {
		if r.policies[req.Category].AllowStale {
			if value, ok := r.cache.GetStale(context.Background(), key); ok {
				res, err := decodeResult(value)
				if err == nil {
					res.Stale = true
					log.Warnw("Serving stale entry after upstream failure",
						"category", req.Category, "key", key, "err", callErr)
					return res, nil
				}
				log.Errorw("Dropping undecodable cache entry", "err", err, "key", key)
			}
		}
		return nil, callErr
	}

	res := &Result{
		Category:  req.Category,
		Provider:  id,
		FetchedAt: time.Now().UTC(),
		Payload:   payload,
	}
	value, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	r.cache.Set(context.Background(), key, value, r.policies[req.Category].TTL)
	r.tracker.RecordSuccess(id)
	return res, nil
}

// callEligible tries the eligible providers of the request's category in
// preference order, at most maxAttempts of them, with a bounded timeout per
// call. Each failed attempt is recorded against its provider. When
// normalize is set, the provider's registered normalizer is applied and a
// normalization failure counts as a provider failure.
func (r *Resolver) callEligible(ctx context.Context, req Request, normalize bool) (string, []byte, error) {
	eligible := r.tracker.Eligible(r.setIDs[req.Category])
	if len(eligible) == 0 {
		return "", nil, fmt.Errorf("%w: category %s", ErrNoProviderAvailable, req.Category)
	}
	if len(eligible) > maxAttempts {
		eligible = eligible[:maxAttempts]
	}

	var errs error
	for _, id := range eligible {
		reg, ok := r.registration(req.Category, id)
		if !ok {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		raw, err := reg.provider.Fetch(cctx, req.Params)
		cancel()
		if err == nil && normalize && reg.normalize != nil {
			raw, err = reg.normalize(raw)
			if err != nil {
				err = fmt.Errorf("cannot normalize response: %w", err)
			}
		}
		if err != nil {
			r.tracker.RecordFailure(id)
			errs = multierror.Append(errs, newAttemptError(id, err))
			log.Warnw("Upstream attempt failed", "provider", id, "category", req.Category, "err", err)
			continue
		}
		return id, raw, nil
	}

	return "", nil, multierror.Append(
		fmt.Errorf("%w: category %s", ErrUpstreamUnavailable, req.Category), errs)
}

func (r *Resolver) registration(category Category, id string) (registration, bool) {
	for _, reg := range r.sets[category] {
		if reg.provider.Name() == id {
			return reg, true
		}
	}
	return registration{}, false
}

// belowMinTrip reports whether a request carries from and to coordinates
// closer together than the minimum trip distance.
func (r *Resolver) belowMinTrip(params upstream.Params) bool {
	if r.minTripMeters <= 0 {
		return false
	}
	fromLat, fromLon, ok := parseCoord(params["from"])
	if !ok {
		return false
	}
	toLat, toLon, ok := parseCoord(params["to"])
	if !ok {
		return false
	}
	return haversineMeters(fromLat, fromLon, toLat, toLon) < r.minTripMeters
}
