package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultMaxBodyBytes 在未配置上限时使用。
const DefaultMaxBodyBytes int64 = 4 << 20

// errorBodyPreview 限制 StatusError 中保留的响应体长度。
const errorBodyPreview = 256

// Document 是一次成功读取的结果。
type Document struct {
	Data      json.RawMessage `json:"data"`
	Path      string          `json:"path"`
	ETag      string          `json:"etag,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Target 描述一次读取所需的全部上游参数。
type Target struct {
	URL      *url.URL
	Proxy    *url.URL
	Username string
	Password string
	Token    string
	// Paths 为按顺序尝试的 gjson 路径，第一个存在的路径即为载荷。
	Paths []string
}

// Client 使用共享 http.Client 执行上游读取。配置了代理的 Target 按代理地址
// 复用各自的 http.Client，连接池不会随每次读取重建。
type Client struct {
	http         *http.Client
	maxBodyBytes int64
	now          func() time.Time

	mu      sync.Mutex
	proxied map[string]*http.Client
}

// NewClient 构造 Client；maxBodyBytes<=0 时使用 DefaultMaxBodyBytes。
func NewClient(httpClient *http.Client, maxBodyBytes int64) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		http:         httpClient,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
		proxied:      make(map[string]*http.Client),
	}
}

// Operation 将 Target 绑定为可交给 fetch.New 的读取函数，代理客户端在此解析一次。
func (c *Client) Operation(target Target) func(ctx context.Context) (Document, error) {
	httpClient := c.clientFor(target.Proxy)
	return func(ctx context.Context) (Document, error) {
		return c.get(ctx, httpClient, target)
	}
}

// Get 读取一次上游并提取载荷。
func (c *Client) Get(ctx context.Context, target Target) (Document, error) {
	return c.get(ctx, c.clientFor(target.Proxy), target)
}

func (c *Client) get(ctx context.Context, httpClient *http.Client, target Target) (Document, error) {
	if target.URL == nil {
		return Document{}, errors.New("upstream url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), http.NoBody)
	if err != nil {
		return Document{}, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth := authorizationHeader(target); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return Document{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, &StatusError{Code: resp.StatusCode, Body: preview(body)}
	}
	if !gjson.ValidBytes(body) {
		return Document{}, errors.New("upstream returned invalid json")
	}

	data, path, err := Extract(body, target.Paths)
	if err != nil {
		return Document{}, err
	}

	return Document{
		Data:      data,
		Path:      path,
		ETag:      resp.Header.Get("ETag"),
		FetchedAt: c.now(),
	}, nil
}

// Extract 按顺序尝试 paths，返回第一个存在路径的原始 JSON。
func Extract(body []byte, paths []string) (json.RawMessage, string, error) {
	for _, path := range paths {
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			continue
		}
		return json.RawMessage(result.Raw), path, nil
	}
	return nil, "", fmt.Errorf("%w: tried %s", ErrShapeUnrecognized, strings.Join(paths, ", "))
}

// clientFor 返回走指定代理的 http.Client；同一代理地址只构建一次 Transport。
func (c *Client) clientFor(proxy *url.URL) *http.Client {
	if proxy == nil {
		return c.http
	}
	key := proxy.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.proxied[key]; ok {
		return existing
	}

	base, ok := c.http.Transport.(*http.Transport)
	if !ok || base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyURL(proxy)

	client := &http.Client{
		Transport:     transport,
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
		Timeout:       c.http.Timeout,
	}
	c.proxied[key] = client
	return client
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", c.maxBodyBytes)
	}
	return body, nil
}

func authorizationHeader(target Target) string {
	if target.Token != "" {
		return "Bearer " + target.Token
	}
	if target.Username == "" || target.Password == "" {
		return ""
	}
	token := target.Username + ":" + target.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

func preview(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errorBodyPreview {
		return text[:errorBodyPreview]
	}
	return text
}
