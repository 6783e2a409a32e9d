package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 endpoint/domain/缓存来源字段，供请求日志复用。
func RequestFields(endpoint, domain, authMode, source string) logrus.Fields {
	return logrus.Fields{
		"endpoint":  endpoint,
		"domain":    domain,
		"auth_mode": authMode,
		"source":    source,
	}
}

// EndpointLogger 返回带 endpoint 字段的子 logger，供缓存与拉取组件使用。
func EndpointLogger(logger logrus.FieldLogger, endpoint string) logrus.FieldLogger {
	return logger.WithField("endpoint", endpoint)
}
