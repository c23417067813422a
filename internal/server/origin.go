package server

import (
	"errors"
	"net/url"
	"strings"

	"github.com/practice-timer/swgate/internal/config"
)

// Origin 将 Worker 配置里的上游站点解析为可复用的派生属性，
// 供安装预热与 fetch 拦截层直接使用，避免重复解析 URL。
type Origin struct {
	// URL 是解析完成的上游根地址。
	URL *url.URL
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
}

// NewOrigin 在启动阶段解析一次上游地址。调用方应创建一次并复用。
func NewOrigin(cfg *config.Config) (*Origin, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	parsed, err := url.Parse(cfg.Worker.Upstream)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("upstream url must be absolute")
	}
	return &Origin{
		URL:        parsed,
		ListenPort: cfg.Global.ListenPort,
	}, nil
}

// Resolve 将相对请求路径与原始 query 解析为完整的上游 URL。
func (o *Origin) Resolve(cleanPath string, rawQuery []byte) *url.URL {
	relative := &url.URL{Path: cleanPath, RawPath: cleanPath}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}
	return o.URL.ResolveReference(relative)
}

// SameOrigin 判断最终响应 URL 是否仍指向上游站点，
// 对应浏览器里 "basic" 响应类型的同源判定。重定向到其它
// Host 的响应因此不会进入缓存。
func (o *Origin) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Host, o.URL.Host) && u.Scheme == o.URL.Scheme
}
