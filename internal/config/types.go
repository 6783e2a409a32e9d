package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationOf 返回指向 d 的 *Duration，用于构造 Endpoint 级覆盖值。
func DurationOf(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Endpoint 共享同一份参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFormat         string   `mapstructure:"LogFormat"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	FreshTTL          Duration `mapstructure:"FreshTTL"`
	StaleExtension    Duration `mapstructure:"StaleExtension"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	InitialBackoff    Duration `mapstructure:"InitialBackoff"`
	RequestTimeout    Duration `mapstructure:"RequestTimeout"`
	MaxBodyBytes      int64    `mapstructure:"MaxBodyBytes"`
	AllowOrigins      []string `mapstructure:"AllowOrigins"`
	ServeStaleOnError bool     `mapstructure:"ServeStaleOnError"`
	Warmup            bool     `mapstructure:"Warmup"`
}

// EndpointConfig 描述一个部署：一个上游资源、一个 Host、一份独立缓存。
// FreshTTL/StaleExtension 未配置（nil）时继承全局值；显式配置为 0 会关闭对应窗口。
type EndpointConfig struct {
	Name           string   `mapstructure:"Name"`
	Domain         string   `mapstructure:"Domain"`
	Upstream       string   `mapstructure:"Upstream"`
	Proxy          string   `mapstructure:"Proxy"`
	Username       string   `mapstructure:"Username"`
	Password       string   `mapstructure:"Password"`
	Token          string   `mapstructure:"Token"`
	Shape          string   `mapstructure:"Shape"`
	ResponsePaths  []string `mapstructure:"ResponsePaths"`
	FreshTTL       *Duration `mapstructure:"FreshTTL"`
	StaleExtension *Duration `mapstructure:"StaleExtension"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Endpoints []EndpointConfig `mapstructure:"Endpoint"`
}

// HasCredentials 表示当前 Endpoint 是否配置了完整的 Basic 凭证。
func (e EndpointConfig) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// AuthMode 输出 `basic`、`bearer` 或 `anonymous`，供日志字段使用。
func (e EndpointConfig) AuthMode() string {
	switch {
	case e.Token != "":
		return "bearer"
	case e.HasCredentials():
		return "basic"
	default:
		return "anonymous"
	}
}

// AuthModes 返回所有 Endpoint 的鉴权模式摘要，例如 prices:bearer。
func AuthModes(endpoints []EndpointConfig) []string {
	if len(endpoints) == 0 {
		return nil
	}
	result := make([]string, len(endpoints))
	for i, ep := range endpoints {
		result[i] = fmt.Sprintf("%s:%s", ep.Name, ep.AuthMode())
	}
	return result
}

// Windows 是某个 Endpoint 生效的新鲜/陈旧窗口。
type Windows struct {
	FreshTTL       time.Duration
	StaleExtension time.Duration
}

// EffectiveWindows 返回特定 Endpoint 生效的窗口，未覆盖时回退至全局值。
func (c *Config) EffectiveWindows(e EndpointConfig) Windows {
	w := Windows{
		FreshTTL:       c.Global.FreshTTL.DurationValue(),
		StaleExtension: c.Global.StaleExtension.DurationValue(),
	}
	if e.FreshTTL != nil {
		w.FreshTTL = e.FreshTTL.DurationValue()
	}
	if e.StaleExtension != nil {
		w.StaleExtension = e.StaleExtension.DurationValue()
	}
	return w
}
