// Package handler 把每个 Endpoint 的 swr.Cache 暴露为 Fiber handler：
// 负责请求级别的响应格式、缓存头、降级策略与请求日志。
package handler
