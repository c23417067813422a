// Package worker implements the offline cache controller: the install
// pre-warm of the static asset manifest, the activate-time sweep of stale
// cache versions, and the per-request fetch interception that decides
// between pass-through, cache-first serving and network fallback with
// best-effort write-through. The three phases run in install → activate →
// intercept order; the CLI enforces that ordering at startup the way the
// browser lifecycle would.
package worker
