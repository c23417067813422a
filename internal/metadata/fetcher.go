package metadata

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/practice-timer/swgate/internal/config"
)

// Meta 是 /api/metadata 返回的链接预览结构。
// 抓取或解析失败时退化为 {title: url, url}，端点本身从不报错。
type Meta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Icon        string `json:"icon,omitempty"`
	URL         string `json:"url"`
}

// Fetcher 抓取目标页面并提取 Open Graph / twitter 元信息。
// 结果按 URL 记忆一段时间，避免同一链接反复抓取。
type Fetcher struct {
	client   *http.Client
	logger   *logrus.Logger
	memo     *gocache.Cache
	timeout  config.Duration
	maxBytes int64
}

// NewFetcher 构造抓取器，记忆缓存使用配置的 TTL，过期条目定期清理。
func NewFetcher(client *http.Client, logger *logrus.Logger, cfg config.MetadataConfig) *Fetcher {
	ttl := cfg.CacheTTL.DurationValue()
	return &Fetcher{
		client:   client,
		logger:   logger,
		memo:     gocache.New(ttl, 2*ttl),
		timeout:  cfg.FetchTimeout,
		maxBytes: cfg.MaxBodyBytes,
	}
}

// Fetch 返回目标链接的预览元信息。任何内部失败都被降级为最小结构，
// 调用方总能拿到可用的 JSON。
func (f *Fetcher) Fetch(ctx context.Context, target string) Meta {
	if cached, ok := f.memo.Get(target); ok {
		if meta, ok := cached.(Meta); ok {
			return meta
		}
	}

	meta, err := f.fetchRemote(ctx, target)
	if err != nil {
		f.logger.WithError(err).
			WithFields(logrus.Fields{"action": "metadata_fetch", "url": target}).
			Warn("metadata_fetch_failed")
		meta = Meta{Title: target, URL: target}
	}

	f.memo.SetDefault(target, meta)
	return meta
}

func (f *Fetcher) fetchRemote(ctx context.Context, target string) (Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout.DurationValue())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return Meta{}, err
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "swgate-metadata/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return Meta{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Meta{}, &statusError{status: resp.StatusCode}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Meta{}, err
	}

	base := resp.Request.URL
	meta := extractMeta(doc, base)
	meta.URL = target
	if meta.Title == "" {
		meta.Title = target
	}
	return meta, nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return http.StatusText(e.status)
}

// extractor 在一次 DOM 遍历里收集所有候选字段，og: 前缀优先于
// twitter: 与普通标签。
type extractor struct {
	meta       Meta
	titleText  string
	ogTitle    bool
	ogDesc     bool
	ogImage    bool
	iconHref   string
	applesIcon string
}

func extractMeta(doc *html.Node, base *url.URL) Meta {
	ex := &extractor{}
	ex.walk(doc)

	if ex.meta.Title == "" {
		ex.meta.Title = strings.TrimSpace(ex.titleText)
	}
	if ex.meta.Image != "" {
		ex.meta.Image = absoluteURL(base, ex.meta.Image)
	}
	icon := ex.iconHref
	if icon == "" {
		icon = ex.applesIcon
	}
	if icon != "" {
		ex.meta.Icon = absoluteURL(base, icon)
	} else if base != nil {
		// 没有显式图标时退回站点默认 favicon。
		ex.meta.Icon = absoluteURL(base, "/favicon.ico")
	}
	return ex.meta
}

func (ex *extractor) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "meta":
			ex.scanMetaTag(n)
		case "link":
			ex.scanLinkTag(n)
		case "title":
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				ex.titleText = n.FirstChild.Data
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		ex.walk(child)
	}
}

func (ex *extractor) scanMetaTag(n *html.Node) {
	name := attrValue(n, "property")
	if name == "" {
		name = attrValue(n, "name")
	}
	content := strings.TrimSpace(attrValue(n, "content"))
	if name == "" || content == "" {
		return
	}

	switch strings.ToLower(name) {
	case "og:title":
		ex.meta.Title = content
		ex.ogTitle = true
	case "twitter:title":
		if !ex.ogTitle {
			ex.meta.Title = content
		}
	case "og:description":
		ex.meta.Description = content
		ex.ogDesc = true
	case "twitter:description", "description":
		if !ex.ogDesc {
			ex.meta.Description = content
		}
	case "og:image":
		ex.meta.Image = content
		ex.ogImage = true
	case "twitter:image":
		if !ex.ogImage {
			ex.meta.Image = content
		}
	}
}

func (ex *extractor) scanLinkTag(n *html.Node) {
	rel := strings.ToLower(attrValue(n, "rel"))
	href := strings.TrimSpace(attrValue(n, "href"))
	if href == "" {
		return
	}
	switch {
	case rel == "icon" || rel == "shortcut icon":
		ex.iconHref = href
	case rel == "apple-touch-icon":
		ex.applesIcon = href
	}
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// absoluteURL 将相对引用解析到页面最终 URL 上，已是绝对地址时原样返回。
func absoluteURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if parsed.IsAbs() || base == nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
