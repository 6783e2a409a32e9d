package handler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// warmupConcurrency 限制启动预热时同时访问上游的 Endpoint 数。
const warmupConcurrency = 4

// Warmup 并发预取所有 Endpoint。单个 Endpoint 失败只记录日志，不阻止启动；
// 返回成功预热的数量。
func (h *Handler) Warmup(ctx context.Context) int {
	var (
		g       errgroup.Group
		results = make([]bool, len(h.routes))
	)
	g.SetLimit(warmupConcurrency)

	for i, route := range h.routes {
		cache := h.caches[route.Name()]
		g.Go(func() error {
			started := time.Now()
			_, source, err := cache.Get(ctx)
			fields := logrus.Fields{
				"action":     "warmup",
				"endpoint":   route.Name(),
				"elapsed_ms": time.Since(started).Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				h.logger.WithFields(fields).Warn("warmup_failed")
				return nil
			}
			fields["source"] = string(source)
			h.logger.WithFields(fields).Info("warmup_complete")
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	warmed := 0
	for _, ok := range results {
		if ok {
			warmed++
		}
	}
	return warmed
}
