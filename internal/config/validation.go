package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// 版本化缓存名只允许小写字母、数字、连字符与点，例如 practice-timer-v1
// 或 practice-timer-v1.2。激活阶段按名字精确匹配清扫旧版本，名字里混入
// 路径分隔符或 . / .. 会破坏磁盘布局，必须在启动前拒绝。
func validCacheName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxCacheableBytes <= 0 {
		return newFieldError("Global.MaxCacheableBytes", "必须大于 0")
	}

	w := &c.Worker
	if !validCacheName(w.CacheName) {
		return newFieldError(workerField("CacheName"), "仅支持小写字母/数字/连字符/点，且不能为 . 或 ..")
	}
	if err := validateUpstream(w.Upstream); err != nil {
		return fmt.Errorf("%s: %w", workerField("Upstream"), err)
	}
	for _, entry := range w.Precache {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError(workerField("Precache"), fmt.Sprintf("必须是以 / 开头的相对路径: %s", entry))
		}
	}
	for _, host := range w.DevHosts {
		if strings.Contains(host, "/") || strings.Contains(host, " ") {
			return newFieldError(workerField("DevHosts"), fmt.Sprintf("Host 不允许包含路径或空格: %s", host))
		}
	}
	for _, marker := range w.ExcludeMarkers {
		if strings.TrimSpace(marker) == "" {
			return newFieldError(workerField("ExcludeMarkers"), "不能包含空白项")
		}
	}

	m := c.Metadata
	if m.Enabled {
		if m.CacheTTL.DurationValue() <= 0 {
			return newFieldError(metadataField("CacheTTL"), "必须大于 0")
		}
		if m.FetchTimeout.DurationValue() <= 0 {
			return newFieldError(metadataField("FetchTimeout"), "必须大于 0")
		}
		if m.MaxBodyBytes <= 0 {
			return newFieldError(metadataField("MaxBodyBytes"), "必须大于 0")
		}
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
