package worker

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/logging"
	"github.com/practice-timer/swgate/internal/server"
)

// Interceptor 对每个页面请求执行决策算法：先匹配排除规则（完全绕过缓存），
// 再查当前缓存（严格 cache-first，命中即返回、不发网络请求），最后回源。
// 回源成功且响应是同源 200 时，克隆一份正文异步写缓存；写入相对响应路径
// 是 fire-and-forget 的，写失败只记日志，页面照常拿到网络响应。
type Interceptor struct {
	client   *http.Client
	logger   *logrus.Logger
	cache    cache.Cache
	origin   *server.Origin
	policy   ExclusionPolicy
	maxBytes int64

	// writeDone 仅测试使用，在异步缓存写落定后回调。
	writeDone func(key string, err error)
}

// NewInterceptor 构造拦截器，依赖共享的 http.Client 与磁盘缓存。
func NewInterceptor(
	client *http.Client,
	logger *logrus.Logger,
	c cache.Cache,
	origin *server.Origin,
	policy ExclusionPolicy,
	maxBytes int64,
) *Interceptor {
	return &Interceptor{
		client:   client,
		logger:   logger,
		cache:    c,
		origin:   origin,
		policy:   policy,
		maxBytes: maxBytes,
	}
}

// fetchDecision 描述单个请求走到的终态，仅用于日志字段。
const (
	decisionExcluded = "excluded"
	decisionHit      = "cache_hit"
	decisionMiss     = "cache_miss"
	decisionNetFail  = "network_failure"
)

// Handle 实现 server.FetchHandler。每个请求的决策严格顺序执行：
// 排除检查 → 缓存查找 → 网络回退；不同请求之间无顺序保证。
func (i *Interceptor) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	host := requestHost(c)
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)

	if i.policy.Excluded(host, cleanPath) {
		return i.passThrough(c, host, cleanPath, rawQuery, requestID, started)
	}

	allowCache := c.Method() == http.MethodGet || c.Method() == http.MethodHead
	key := buildKey(cleanPath, rawQuery)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if allowCache {
		result, err := i.cache.Match(ctx, key)
		switch {
		case err == nil:
			defer result.Reader.Close()
			return i.serveCache(c, result, requestID, started)
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			i.logger.WithError(err).
				WithFields(logrus.Fields{"cache": i.cache.Name(), "path": cleanPath}).
				Warn("cache_match_failed")
		}
	}

	return i.fetchAndServe(c, key, cleanPath, rawQuery, allowCache, requestID, started)
}

// serveCache 直接用缓存条目响应，绝不触发网络请求。
func (i *Interceptor) serveCache(
	c fiber.Ctx,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
) error {
	entry := result.Entry
	for key, values := range entry.Header {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	if entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(entry.SizeBytes))
	} else {
		c.Response().Header.Del("Content-Length")
	}
	c.Set("X-Swgate-Cache", i.cache.Name())
	c.Set("X-Swgate-Cache-Hit", "true")
	setRequestIDHeader(c, requestID)
	c.Status(entry.Status)

	if c.Method() == http.MethodHead {
		i.logDecision(decisionHit, entry.Key, entry.Status, true, requestID, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	i.logDecision(decisionHit, entry.Key, entry.Status, true, requestID, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

// passThrough 处理命中排除规则的请求：拦截器不介入，请求按普通代理
// 路径转发，既不读缓存也不写缓存，网络错误原样暴露给调用方。
func (i *Interceptor) passThrough(
	c fiber.Ctx,
	host string,
	cleanPath string,
	rawQuery []byte,
	requestID string,
	started time.Time,
) error {
	target := i.passTarget(host, cleanPath, rawQuery)
	resp, err := i.executeRequest(c, target)
	if err != nil {
		i.logDecision(decisionExcluded, cleanPath, 0, false, requestID, started, err)
		return writeUpstreamError(c, requestID)
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Swgate-Cache-Hit", "false")
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		i.logDecision(decisionExcluded, cleanPath, resp.StatusCode, false, requestID, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	i.logDecision(decisionExcluded, cleanPath, resp.StatusCode, false, requestID, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// passTarget 决定排除请求的转发目标：Host 指向开发服务器时原样转发过去，
// 否则仍然走上游站点（但不经过缓存）。
func (i *Interceptor) passTarget(host, cleanPath string, rawQuery []byte) *url.URL {
	if i.policy.DevHost(host) {
		target := &url.URL{Scheme: "http", Host: host, Path: cleanPath, RawPath: cleanPath}
		if len(rawQuery) > 0 {
			target.RawQuery = string(rawQuery)
		}
		return target
	}
	return i.origin.Resolve(cleanPath, rawQuery)
}

// fetchAndServe 处理缓存未命中：发出真实网络请求，按响应资格决定是否
// 在返回正文的同时异步写缓存。网络失败是唯一向调用方暴露的错误类别。
func (i *Interceptor) fetchAndServe(
	c fiber.Ctx,
	key string,
	cleanPath string,
	rawQuery []byte,
	allowStore bool,
	requestID string,
	started time.Time,
) error {
	target := i.origin.Resolve(cleanPath, rawQuery)
	resp, err := i.executeRequest(c, target)
	if err != nil {
		i.logDecision(decisionNetFail, key, 0, false, requestID, started, err)
		return writeUpstreamError(c, requestID)
	}
	defer resp.Body.Close()

	// “basic” 资格判定：跟随重定向后的最终 URL 仍是上游同源，且状态码
	// 恰好为 200。其余响应原样返回页面，不进缓存。
	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	eligible := allowStore &&
		c.Method() == http.MethodGet &&
		resp.StatusCode == http.StatusOK &&
		i.origin.SameOrigin(finalURL)

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Swgate-Cache-Hit", "false")
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, nil)
		return nil
	}

	if !eligible {
		_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
		i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, err)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
		}
		return nil
	}

	return i.serveAndStore(c, key, resp, requestID, started)
}

// serveAndStore 先把正文交还页面，再克隆一份交给后台写入。
// 超过 maxBytes 的正文只透传不缓存。
func (i *Interceptor) serveAndStore(
	c fiber.Ctx,
	key string,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	body, overflow, err := readLimited(resp.Body, i.maxBytes)
	if err != nil {
		i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, err)
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}

	if _, err := c.Response().BodyWriter().Write(body); err != nil {
		i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, err)
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}

	if overflow {
		// 正文超限：把剩余部分继续流式透传，放弃缓存。
		_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
		i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, err)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
		}
		return nil
	}

	// 克隆：头和正文各复制一份，写入在独立任务里自带错误处理，
	// 不被响应路径等待，也不随请求上下文取消。
	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)
	stored := cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   append([]byte(nil), body...),
	}
	go i.storeEntry(key, stored)

	i.logDecision(decisionMiss, key, resp.StatusCode, false, requestID, started, nil)
	return nil
}

// storeEntry 执行后台缓存写入。失败只记录日志，页面早已拿到响应。
func (i *Interceptor) storeEntry(key string, resp cache.Response) {
	_, err := i.cache.Put(context.Background(), key, resp)
	if err != nil {
		i.logger.WithError(err).
			WithFields(logrus.Fields{"cache": i.cache.Name(), "key": key}).
			Warn("cache_write_failed")
	}
	if i.writeDone != nil {
		i.writeDone(key, err)
	}
}

func (i *Interceptor) executeRequest(c fiber.Ctx, target *url.URL) (*http.Response, error) {
	req, err := i.buildUpstreamRequest(c, target)
	if err != nil {
		return nil, err
	}
	return i.client.Do(req)
}

func (i *Interceptor) buildUpstreamRequest(c fiber.Ctx, target *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	requestHeaders := fiberHeadersAsHTTP(c)
	server.CopyHeaders(req.Header, requestHeaders)
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", fmt.Sprintf("%d", i.origin.ListenPort))

	return req, nil
}

func (i *Interceptor) logDecision(
	decision string,
	key string,
	status int,
	cacheHit bool,
	requestID string,
	started time.Time,
	err error,
) {
	fields := logging.FetchFields(i.cache.Name(), key, decision, cacheHit)
	fields["action"] = "fetch"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		i.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	i.logger.WithFields(fields).Info("fetch_complete")
}

// buildKey 将路径与可选 query 折叠为缓存条目 key；带 query 的请求
// 用内容指纹区分，避免 query 字符出现在磁盘路径里。
func buildKey(cleanPath string, rawQuery []byte) string {
	if len(rawQuery) == 0 {
		return cleanPath
	}
	sum := sha1.Sum(rawQuery)
	return fmt.Sprintf("%s/__qs/%s", cleanPath, hex.EncodeToString(sum[:]))
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Host()
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func writeUpstreamError(c fiber.Ctx, requestID string) error {
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
}

// readLimited 读取至多 max 字节；若正文更长则返回 overflow=true，
// 剩余部分留在原 Reader 里由调用方继续消费。
func readLimited(r io.Reader, max int64) ([]byte, bool, error) {
	buf, err := io.ReadAll(io.LimitReader(r, max))
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) < max {
		return buf, false, nil
	}
	// 读满上限，探测是否还有剩余字节。
	probe := make([]byte, 1)
	n, err := r.Read(probe)
	if n > 0 {
		return append(buf, probe[:n]...), true, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	return buf, false, nil
}
