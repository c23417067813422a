package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供拦截器决策相关字段（缓存名/路径/决策分支），供请求日志复用。
func FetchFields(cacheName, path, decision string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache":     cacheName,
		"path":      path,
		"decision":  decision,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 供 install/activate 生命周期日志复用。
func LifecycleFields(phase, cacheName string) logrus.Fields {
	return logrus.Fields{
		"action": phase,
		"cache":  cacheName,
	}
}
