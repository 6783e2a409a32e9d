// Package swr owns a single cached upstream value and serves it with
// stale-while-revalidate semantics.
//
// A Cache moves through three windows after every successful fetch:
//
//	[fetchedAt, freshUntil)   fresh: served as-is, no upstream work
//	[freshUntil, staleUntil)  stale: served as-is, one background refresh started
//	[staleUntil, ...)         expired: callers block on a foreground fetch
//
// At most one fetch is in flight per Cache. Callers that need a value while a
// fetch is running attach to the same pending handle instead of starting their
// own. A failed fetch never clears the cached value; background failures are
// logged and dropped, foreground failures surface as ErrFetchFailed.
package swr
