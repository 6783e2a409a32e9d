// Package shape 维护上游响应结构的探测配置。
//
// 同一个上游在不同 SDK 版本下会把有效负载嵌套在不同字段中（例如 v0.3.x 的
// `data` 与 v0.4.x 的 `result.data`）。每个 Profile 是一条按顺序尝试的 gjson
// 路径链，第一条命中的路径即为负载；这只是拉取操作的配置，缓存本身不感知。
//
// 内置 Profile 在 init() 中注册；Endpoint 可以通过 ResponsePaths 完全覆盖。
package shape
