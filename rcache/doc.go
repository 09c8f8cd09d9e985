// Package rcache provides a freshness-aware result cache for upstream data
// of differing volatility, from 30-second bike availability to multi-week
// course schedules.
//
// ## Two Tiers
//
// The memory tier is always present and is authoritative for correctness.
// An optional durable tier, any go-datastore TTLDatastore, lets slow-moving
// data survive process restarts. When the durable tier is absent or
// unavailable the cache degrades transparently to memory-only operation;
// callers observe identical semantics either way.
//
// ## Read Path
//
// Get returns only fresh entries. A memory miss falls through to the durable
// tier when one is configured: a fresh durable entry is promoted into memory
// with its remaining time-to-live, an expired one is removed and treated as
// absent. GetStale is a separate, explicit read of expired data for callers
// that deliberately serve stale results after an upstream failure. Stale
// data is never returned through Get.
//
// ## Write Path
//
// Set writes to memory synchronously and mirrors to the durable tier
// asynchronously. A durable write failure is logged and never surfaced; the
// entry remains served from memory. Close waits for in-flight mirror writes.
//
// ## Administration
//
// Stats reports entry and hit/miss counts, bucketed by the category prefix
// of each key. SweepExpired removes expired memory entries and may be called
// concurrently with reads and writes. Clear removes everything, including
// durable records, and resets counters; it is never triggered implicitly.
package rcache
