package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swr-gateway/internal/config"
	"github.com/any-hub/swr-gateway/internal/fetch"
	"github.com/any-hub/swr-gateway/internal/logging"
	"github.com/any-hub/swr-gateway/internal/server"
	"github.com/any-hub/swr-gateway/internal/swr"
	"github.com/any-hub/swr-gateway/internal/upstream"
)

// SourceFallback 标记在上游失败时返回的最后一次成功数据。
const SourceFallback = "fallback"

// Options 控制所有 Endpoint 共用的拉取与降级行为。
type Options struct {
	Fetch             fetch.Options
	ServeStaleOnError bool
	// RequestTimeout 限制单个请求等待上游的总时长，0 表示不限制。
	RequestTimeout time.Duration
	// CacheOptions 透传给每个 swr.Cache，测试中用于注入时钟。
	CacheOptions []swr.Option
}

// OptionsFromConfig 从全局配置推导 Options。
func OptionsFromConfig(g config.GlobalConfig) Options {
	return Options{
		Fetch: fetch.Options{
			Timeout:     g.UpstreamTimeout.DurationValue(),
			MaxRetries:  g.MaxRetries,
			BackoffBase: g.InitialBackoff.DurationValue(),
		},
		ServeStaleOnError: g.ServeStaleOnError,
		RequestTimeout:    g.RequestTimeout.DurationValue(),
	}
}

// Handler 为每个 Endpoint 持有一个 Fetcher 与一个 Cache，启动时构建一次。
type Handler struct {
	logger         *logrus.Logger
	serveStale     bool
	requestTimeout time.Duration
	now            func() time.Time

	caches map[string]*swr.Cache[upstream.Document]
	routes []*server.EndpointRoute
}

type payload struct {
	Data      json.RawMessage `json:"data"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
	AgeMS     int64           `json:"age_ms"`
}

// New 为 registry 中的每个 Endpoint 组装 upstream 操作、Fetcher 与 Cache。
func New(registry *server.EndpointRegistry, client *upstream.Client, opts Options, logger *logrus.Logger) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("endpoint registry is required")
	}
	if client == nil {
		return nil, errors.New("upstream client is required")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	h := &Handler{
		logger:         logger,
		serveStale:     opts.ServeStaleOnError,
		requestTimeout: opts.RequestTimeout,
		now:            time.Now,
		caches:         make(map[string]*swr.Cache[upstream.Document]),
	}

	for _, route := range registry.Routes() {
		endpointLogger := logging.EndpointLogger(logger, route.Name())

		op := client.Operation(upstream.Target{
			URL:      route.UpstreamURL,
			Proxy:    route.ProxyURL,
			Username: route.Config.Username,
			Password: route.Config.Password,
			Token:    route.Config.Token,
			Paths:    route.Paths,
		})
		fetcher, err := fetch.New[upstream.Document](op, opts.Fetch, endpointLogger)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", route.Name(), err)
		}

		cacheOpts := append([]swr.Option{swr.WithName(route.Name())}, opts.CacheOptions...)
		cache, err := swr.New[upstream.Document](fetcher, swr.Options{
			FreshTTL:       route.Windows.FreshTTL,
			StaleExtension: route.Windows.StaleExtension,
		}, endpointLogger, cacheOpts...)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", route.Name(), err)
		}

		h.caches[route.Name()] = cache
		h.routes = append(h.routes, route)
	}

	return h, nil
}

// CacheInfo 返回指定 Endpoint 的缓存快照，供诊断接口使用。
func (h *Handler) CacheInfo(name string) (swr.Info, bool) {
	cache, ok := h.caches[name]
	if !ok {
		return swr.Info{}, false
	}
	return cache.Info(), true
}

// Handle 通过 Endpoint 的 Cache 获取数据并输出 JSON 信封。
func (h *Handler) Handle(c fiber.Ctx, route *server.EndpointRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	if method := c.Method(); method != fiber.MethodGet && method != fiber.MethodHead {
		c.Set(fiber.HeaderAllow, "GET, HEAD")
		h.logResult(route, requestID, "", fiber.StatusMethodNotAllowed, started, nil)
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	cache, ok := h.caches[route.Name()]
	if !ok {
		h.logResult(route, requestID, "", fiber.StatusInternalServerError, started, errors.New("endpoint cache missing"))
		return h.writeError(c, fiber.StatusInternalServerError, "endpoint_not_initialized")
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	doc, source, err := cache.Get(ctx)
	if err == nil {
		h.logResult(route, requestID, string(source), fiber.StatusOK, started, nil)
		return h.writeDocument(c, route, doc, string(source))
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		h.logResult(route, requestID, "", fiber.StatusGatewayTimeout, started, err)
		return h.writeError(c, fiber.StatusGatewayTimeout, "gateway_timeout")
	case errors.Is(err, swr.ErrFetchFailed) && h.serveStale:
		if last, _, ok := cache.Peek(); ok {
			h.logResult(route, requestID, SourceFallback, fiber.StatusOK, started, err)
			return h.writeDocument(c, route, last, SourceFallback)
		}
	}

	h.logResult(route, requestID, "", fiber.StatusBadGateway, started, err)
	return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
}

// requestContext 为等待缓存结果创建独立的 ctx。fasthttp 会复用请求对象，
// 不能让它的生命周期泄漏进后台刷新。
func (h *Handler) requestContext() (context.Context, context.CancelFunc) {
	if h.requestTimeout > 0 {
		return context.WithTimeout(context.Background(), h.requestTimeout)
	}
	return context.WithCancel(context.Background())
}

func (h *Handler) writeDocument(c fiber.Ctx, route *server.EndpointRoute, doc upstream.Document, source string) error {
	age := h.now().Sub(doc.FetchedAt)
	if age < 0 {
		age = 0
	}
	c.Set("X-Cache-Source", source)
	c.Set(fiber.HeaderCacheControl, cacheControl(route.Windows, source))
	if doc.ETag != "" {
		c.Set(fiber.HeaderETag, doc.ETag)
	}
	return c.Status(fiber.StatusOK).JSON(payload{
		Data:      doc.Data,
		Source:    source,
		FetchedAt: doc.FetchedAt,
		AgeMS:     age.Milliseconds(),
	})
}

// cacheControl 让下游缓存与本网关的窗口保持一致；陈旧或降级数据不允许下游再缓存。
func cacheControl(w config.Windows, source string) string {
	maxAge := int64(w.FreshTTL / time.Second)
	if source == string(swr.SourceStale) || source == SourceFallback {
		maxAge = 0
	}
	swrSeconds := int64(w.StaleExtension / time.Second)
	return "public, max-age=" + strconv.FormatInt(maxAge, 10) +
		", stale-while-revalidate=" + strconv.FormatInt(swrSeconds, 10)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.EndpointRoute,
	requestID string,
	source string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		route.Config.AuthMode(),
		source,
	)
	fields["action"] = "serve"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	switch {
	case err != nil && status >= fiber.StatusInternalServerError:
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("serve_failed")
	case err != nil:
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("serve_degraded")
	default:
		h.logger.WithFields(fields).Info("serve_complete")
	}
}
