package swr

import "go.uber.org/atomic"

// Stats 是 Cache 各条路径的累计计数，按调用进入的分支统计。
type Stats struct {
	Fresh              uint64 `json:"fresh"`
	Stale              uint64 `json:"stale"`
	Revalidated        uint64 `json:"revalidated"`
	Live               uint64 `json:"live"`
	Fetches            uint64 `json:"fetches"`
	ForegroundFailures uint64 `json:"foreground_failures"`
	BackgroundFailures uint64 `json:"background_failures"`
}

type counters struct {
	fresh              atomic.Uint64
	stale              atomic.Uint64
	revalidated        atomic.Uint64
	live               atomic.Uint64
	fetches            atomic.Uint64
	foregroundFailures atomic.Uint64
	backgroundFailures atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Fresh:              c.fresh.Load(),
		Stale:              c.stale.Load(),
		Revalidated:        c.revalidated.Load(),
		Live:               c.live.Load(),
		Fetches:            c.fetches.Load(),
		ForegroundFailures: c.foregroundFailures.Load(),
		BackgroundFailures: c.backgroundFailures.Load(),
	}
}
