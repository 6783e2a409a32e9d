// Package fetch wraps an opaque upstream operation with a hard per-attempt
// deadline and bounded exponential-backoff retries. Each attempt races the
// operation against its own timer; a result that arrives after the timer has
// fired is dropped on the floor. The package keeps no shared state beyond the
// timers of the call in progress, so one Fetcher can be used concurrently.
package fetch
