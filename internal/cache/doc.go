// Package cache implements versioned named caches on disk, mirroring the
// browser CacheStorage surface the worker depends on: open-named-cache,
// match, put, keys and whole-cache delete. Entries are keyed by request URL
// and persist status, headers and body across restarts. Writes go through
// temp file + rename so concurrent readers see either the old entry or the
// new one, never a torn one. Individual entries are never expired; bumping
// the cache name and sweeping stale names is the only invalidation path.
package cache
