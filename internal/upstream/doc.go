// Package upstream 实现针对单个 Endpoint 的 HTTP 读取操作：
// 带鉴权与代理地访问上游、限制响应体大小，并按 gjson 路径链从 JSON 信封中
// 提取真正的数据载荷。它不做重试与缓存，这些由 fetch 与 swr 包负责。
package upstream
