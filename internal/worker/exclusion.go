package worker

import (
	"strings"
)

// ExclusionPolicy 是请求 URL 上的纯谓词：命中任一规则的请求完全绕过
// 缓存（既不读也不写）。规则之间是 OR 关系：
//   - Host 指向本地开发服务器（如 Vite dev server）
//   - 路径包含源码片段标记（/src/）
//   - 路径包含 API 路由标记（/api/）
//   - 路径包含热更新协议标记（/@vite）
type ExclusionPolicy struct {
	devHosts map[string]struct{}
	markers  []string
}

// NewExclusionPolicy 构建谓词。Host 同时以 host 与 host:port 两种形式登记，
// 便于匹配带端口与不带端口的请求。
func NewExclusionPolicy(devHosts, markers []string) ExclusionPolicy {
	hosts := make(map[string]struct{}, len(devHosts)*2)
	for _, host := range devHosts {
		normalized := strings.ToLower(strings.TrimSpace(host))
		if normalized == "" {
			continue
		}
		hosts[normalized] = struct{}{}
		if idx := strings.LastIndex(normalized, ":"); idx > 0 {
			hosts[normalized[:idx]] = struct{}{}
		}
	}
	cleanMarkers := make([]string, 0, len(markers))
	for _, marker := range markers {
		if trimmed := strings.TrimSpace(marker); trimmed != "" {
			cleanMarkers = append(cleanMarkers, trimmed)
		}
	}
	return ExclusionPolicy{devHosts: hosts, markers: cleanMarkers}
}

// DevHost 判断 Host 是否登记为本地开发服务器。
func (p ExclusionPolicy) DevHost(host string) bool {
	normalized := strings.ToLower(strings.TrimSpace(host))
	if _, ok := p.devHosts[normalized]; ok {
		return true
	}
	if idx := strings.LastIndex(normalized, ":"); idx > 0 {
		_, ok := p.devHosts[normalized[:idx]]
		return ok
	}
	return false
}

// Excluded 判断 host+path 是否必须绕过缓存。
func (p ExclusionPolicy) Excluded(host, path string) bool {
	if p.DevHost(host) {
		return true
	}
	for _, marker := range p.markers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}
