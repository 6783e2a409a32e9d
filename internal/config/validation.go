package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/swr-gateway/internal/shape"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.FreshTTL.DurationValue() < 0 {
		return newFieldError("Global.FreshTTL", "不能为负数")
	}
	if g.StaleExtension.DurationValue() < 0 {
		return newFieldError("Global.StaleExtension", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.RequestTimeout.DurationValue() < 0 {
		return newFieldError("Global.RequestTimeout", "不能为负数")
	}
	if g.MaxBodyBytes <= 0 {
		return newFieldError("Global.MaxBodyBytes", "必须大于 0")
	}

	if len(c.Endpoints) == 0 {
		return errors.New("至少需要配置一个 Endpoint")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Name == "" {
			return newFieldError("Endpoint[].Name", "不能为空")
		}
		if _, exists := seenNames[ep.Name]; exists {
			return newFieldError(endpointField(ep.Name, "Name"), "重复")
		}
		seenNames[ep.Name] = struct{}{}

		if err := validateDomain(ep.Domain); err != nil {
			return fmt.Errorf("%s: %w", endpointField(ep.Name, "Domain"), err)
		}
		if err := validateUpstream(ep.Upstream); err != nil {
			return fmt.Errorf("%s: %w", endpointField(ep.Name, "Upstream"), err)
		}
		if ep.Proxy != "" {
			if err := validateUpstream(ep.Proxy); err != nil {
				return fmt.Errorf("%s: %w", endpointField(ep.Name, "Proxy"), err)
			}
		}
		if ep.FreshTTL != nil && ep.FreshTTL.DurationValue() < 0 {
			return newFieldError(endpointField(ep.Name, "FreshTTL"), "不能为负数")
		}
		if ep.StaleExtension != nil && ep.StaleExtension.DurationValue() < 0 {
			return newFieldError(endpointField(ep.Name, "StaleExtension"), "不能为负数")
		}
		if (ep.Username == "") != (ep.Password == "") {
			return newFieldError(endpointField(ep.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if ep.Token != "" && ep.HasCredentials() {
			return newFieldError(endpointField(ep.Name, "Token"), "不能与 Username/Password 同时配置")
		}
		if _, err := shape.PathsFor(ep.Shape, ep.ResponsePaths); err != nil {
			return newFieldError(endpointField(ep.Name, "Shape"), "仅支持 "+strings.Join(shape.Keys(), "|"))
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
