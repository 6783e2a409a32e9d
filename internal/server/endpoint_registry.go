package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/swr-gateway/internal/config"
	"github.com/any-hub/swr-gateway/internal/shape"
)

// EndpointRoute 将 Endpoint 配置与派生属性（生效窗口、解析后的 URL、探测路径）
// 聚合在一起，handler 与诊断接口直接复用，避免重复解析配置。
type EndpointRoute struct {
	// Config 是 config.toml 中 [[Endpoint]] 的副本。
	Config config.EndpointConfig
	// ListenPort 记录监听端口，用于日志。
	ListenPort int
	// Windows 是对该 Endpoint 生效的新鲜/陈旧窗口。
	Windows config.Windows
	// UpstreamURL/ProxyURL 在构造 Registry 时解析完成。
	UpstreamURL *url.URL
	ProxyURL    *url.URL
	// Paths 是最终的 gjson 探测链（ResponsePaths 优先于 Shape）。
	Paths []string
}

// Name 返回 Endpoint 名称。
func (r *EndpointRoute) Name() string {
	return r.Config.Name
}

// EndpointRegistry 提供 Host/Host:port 到 EndpointRoute 的查询能力。
type EndpointRegistry struct {
	routes  map[string]*EndpointRoute
	ordered []*EndpointRoute
}

// NewEndpointRegistry 根据配置构建 Host 映射，启动阶段创建一次并复用。
func NewEndpointRegistry(cfg *config.Config) (*EndpointRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &EndpointRegistry{
		routes: make(map[string]*EndpointRoute, len(cfg.Endpoints)),
	}

	for _, ep := range cfg.Endpoints {
		host := normalizeDomain(ep.Domain)
		if host == "" {
			return nil, fmt.Errorf("invalid domain for endpoint %s", ep.Name)
		}
		if _, exists := registry.routes[host]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", host)
		}

		route, err := buildEndpointRoute(cfg, ep)
		if err != nil {
			return nil, err
		}

		registry.routes[host] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 EndpointRoute，端口部分被忽略。
func (r *EndpointRegistry) Lookup(host string) (*EndpointRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalized, _ := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}

	route, ok := r.routes[normalized]
	return route, ok
}

// Routes 按配置顺序返回共享的 EndpointRoute 指针。
func (r *EndpointRegistry) Routes() []*EndpointRoute {
	if r == nil {
		return nil
	}
	return append([]*EndpointRoute(nil), r.ordered...)
}

// List 返回 EndpointRoute 的值拷贝，用于诊断输出。
func (r *EndpointRegistry) List() []EndpointRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]EndpointRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func buildEndpointRoute(cfg *config.Config, ep config.EndpointConfig) (*EndpointRoute, error) {
	upstreamURL, err := url.Parse(ep.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for endpoint %s: %w", ep.Name, err)
	}

	var proxyURL *url.URL
	if ep.Proxy != "" {
		proxyURL, err = url.Parse(ep.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for endpoint %s: %w", ep.Name, err)
		}
	}

	paths, err := shape.PathsFor(ep.Shape, ep.ResponsePaths)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
	}

	return &EndpointRoute{
		Config:      ep,
		ListenPort:  cfg.Global.ListenPort,
		Windows:     cfg.EffectiveWindows(ep),
		UpstreamURL: upstreamURL,
		ProxyURL:    proxyURL,
		Paths:       paths,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
