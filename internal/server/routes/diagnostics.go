package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/swr-gateway/internal/server"
	"github.com/any-hub/swr-gateway/internal/shape"
	"github.com/any-hub/swr-gateway/internal/swr"
)

// CacheReporter 提供按 Endpoint 名称读取缓存快照的能力，由 handler.Handler 实现。
type CacheReporter interface {
	CacheInfo(name string) (swr.Info, bool)
}

// RegisterDiagnosticRoutes 暴露 /-/endpoints、/-/shapes 与 /-/healthz 诊断接口。
func RegisterDiagnosticRoutes(app *fiber.App, registry *server.EndpointRegistry, reporter CacheReporter) {
	if app == nil || registry == nil || reporter == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/endpoints", func(c fiber.Ctx) error {
		now := time.Now()
		return c.JSON(fiber.Map{
			"endpoints": encodeEndpoints(registry.List(), reporter, now),
		})
	})

	app.Get("/-/endpoints/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		for _, route := range registry.List() {
			if route.Config.Name == name {
				return c.JSON(encodeEndpoint(route, reporter, time.Now()))
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "endpoint_not_found"})
	})

	app.Get("/-/shapes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"default": shape.DefaultKey(),
			"shapes":  encodeShapes(shape.List()),
		})
	})

	app.Get("/-/shapes/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		profile, ok := shape.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "shape_not_found"})
		}
		return c.JSON(encodeShape(profile))
	})
}

type endpointPayload struct {
	Name           string        `json:"name"`
	Domain         string        `json:"domain"`
	Upstream       string        `json:"upstream"`
	AuthMode       string        `json:"auth_mode"`
	Paths          []string      `json:"paths"`
	FreshTTLMS     int64         `json:"fresh_ttl_ms"`
	StaleExtension int64         `json:"stale_extension_ms"`
	Cache          *cachePayload `json:"cache,omitempty"`
}

type cachePayload struct {
	HasValue     bool      `json:"has_value"`
	State        string    `json:"state"`
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
	Age          string    `json:"age,omitempty"`
	Revalidating bool      `json:"revalidating"`
	Stats        swr.Stats `json:"stats"`
	Requests     string    `json:"requests"`
}

type shapePayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Paths       []string `json:"paths"`
}

func encodeEndpoints(routes []server.EndpointRoute, reporter CacheReporter, now time.Time) []endpointPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]endpointPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeEndpoint(route, reporter, now))
	}
	return result
}

func encodeEndpoint(route server.EndpointRoute, reporter CacheReporter, now time.Time) endpointPayload {
	item := endpointPayload{
		Name:           route.Config.Name,
		Domain:         route.Config.Domain,
		AuthMode:       route.Config.AuthMode(),
		Paths:          append([]string(nil), route.Paths...),
		FreshTTLMS:     route.Windows.FreshTTL.Milliseconds(),
		StaleExtension: route.Windows.StaleExtension.Milliseconds(),
	}
	if route.UpstreamURL != nil {
		item.Upstream = route.UpstreamURL.Redacted()
	}
	if info, ok := reporter.CacheInfo(route.Config.Name); ok {
		item.Cache = encodeCache(info, now)
	}
	return item
}

func encodeCache(info swr.Info, now time.Time) *cachePayload {
	stats := info.Stats
	total := stats.Fresh + stats.Stale + stats.Revalidated + stats.Live
	payload := &cachePayload{
		HasValue:     info.HasValue,
		State:        cacheState(info, now),
		Revalidating: info.Revalidating,
		Stats:        stats,
		Requests:     humanize.Comma(int64(total)),
	}
	if info.HasValue {
		payload.FetchedAt = info.FetchedAt
		payload.Age = humanize.RelTime(info.FetchedAt, now, "ago", "from now")
	}
	return payload
}

// cacheState 按 Get 的判定顺序描述当前所处窗口。
func cacheState(info swr.Info, now time.Time) string {
	switch {
	case !info.HasValue:
		return "empty"
	case now.Before(info.FreshUntil):
		return "fresh"
	case now.Before(info.StaleUntil):
		return "stale"
	default:
		return "expired"
	}
}

func encodeShapes(profiles []shape.Profile) []shapePayload {
	result := make([]shapePayload, 0, len(profiles))
	for _, p := range profiles {
		result = append(result, encodeShape(p))
	}
	return result
}

func encodeShape(p shape.Profile) shapePayload {
	return shapePayload{
		Key:         p.Key,
		Description: p.Description,
		Paths:       append([]string(nil), p.Paths...),
	}
}
