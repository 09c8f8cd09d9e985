// Package resolver is the multi-provider resolution engine behind the
// campus data API. It answers logical requests ("route from A to B",
// "bikes near X") by composing the result cache, a singleflight fetch
// path, and health-tracked failover across interchangeable upstream
// providers, so that callers see one coherent surface regardless of which
// upstream happens to be alive.
//
// A request flows: normalize parameters, compute the deterministic cache
// key, consult the cache, and on a miss collapse concurrent callers into a
// single upstream fetch. The fetch leader asks the health tracker for the
// preferred provider, calls it with a bounded timeout, and on failure makes
// exactly one failover hop to the next eligible provider. The winning
// response is normalized into the unified Result shape and written to the
// cache before any waiting subscriber is released.
//
// Failure surfaces are explicit: ErrNoProviderAvailable when a whole
// category is down (nothing is even attempted), ErrUpstreamUnavailable
// when failover is exhausted for one request, and Result.Stale when an
// expired entry is knowingly served for a slow-moving category. The
// resolver never invents placeholder data.
package resolver
