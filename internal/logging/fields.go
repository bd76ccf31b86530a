package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供 url/group/命中状态字段，供缓存请求日志复用。
func CacheFields(action, url, origin string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"url":       url,
		"origin":    origin,
		"cache_hit": cacheHit,
	}
}

// RequestFields 描述一次 HTTP 请求。
func RequestFields(method, path, requestID string, status int) logrus.Fields {
	fields := logrus.Fields{
		"method": method,
		"path":   path,
		"status": status,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
