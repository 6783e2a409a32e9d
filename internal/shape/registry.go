package shape

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const defaultProfileKey = "auto"

var globalRegistry = newRegistry()

// Profile 描述一种响应结构：按顺序探测的 gjson 路径。
type Profile struct {
	Key         string
	Description string
	Paths       []string
}

type registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[string]Profile)}
}

// DefaultKey 返回未配置 Shape 时使用的 Profile 键。
func DefaultKey() string {
	return defaultProfileKey
}

// Register 将 Profile 加入全局注册表，重复键或空路径会返回错误。
func Register(p Profile) error {
	return globalRegistry.register(p)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(p Profile) {
	if err := Register(p); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的 Profile。
func Resolve(key string) (Profile, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的 Profile 列表。
func List() []Profile {
	return globalRegistry.list()
}

// Keys 返回所有已注册的键。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, p := range items {
		result[i] = p.Key
	}
	return result
}

// PathsFor 计算最终的探测链：显式路径优先，否则使用 Profile。
func PathsFor(key string, override []string) ([]string, error) {
	if cleaned := cleanPaths(override); len(cleaned) > 0 {
		return cleaned, nil
	}
	if strings.TrimSpace(key) == "" {
		key = defaultProfileKey
	}
	p, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("shape %s is not registered", key)
	}
	return append([]string(nil), p.Paths...), nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func cleanPaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (r *registry) register(p Profile) error {
	key := normalizeKey(p.Key)
	if key == "" {
		return fmt.Errorf("shape key is required")
	}
	paths := cleanPaths(p.Paths)
	if len(paths) == 0 {
		return fmt.Errorf("shape %s requires at least one path", key)
	}
	p.Key = key
	p.Paths = paths

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[key]; exists {
		return fmt.Errorf("shape %s already registered", key)
	}
	r.profiles[key] = p
	return nil
}

func (r *registry) resolve(key string) (Profile, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Profile{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[normalized]
	return p, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.profiles) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Profile, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.profiles[key])
	}
	return result
}
