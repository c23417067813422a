package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/logging"
	"github.com/practice-timer/swgate/internal/server"
)

// Installer 负责 install 阶段的静态资产预热：把清单里的每个路径从上游
// 抓取一次并写入当前缓存。预热是尽力而为的——单个资产 404 或网络失败
// 只记录日志，绝不让安装整体失败，避免一个改名的资源文件卡住新版本上线。
type Installer struct {
	cache    cache.Cache
	client   *http.Client
	origin   *server.Origin
	logger   *logrus.Logger
	manifest []string
	maxBytes int64
}

// NewInstaller 构造预热器。manifest 为空时 Install 直接成功。
func NewInstaller(
	c cache.Cache,
	client *http.Client,
	origin *server.Origin,
	logger *logrus.Logger,
	manifest []string,
	maxBytes int64,
) *Installer {
	return &Installer{
		cache:    c,
		client:   client,
		origin:   origin,
		logger:   logger,
		manifest: manifest,
		maxBytes: maxBytes,
	}
}

// Install 批量预热清单条目。返回成功写入的条目数；无论失败多少个都不返回错误，
// 缓存里最终可能有零个、部分或全部清单条目，这是可接受的结果而非失败状态。
func (i *Installer) Install(ctx context.Context) int {
	populated := 0
	for _, path := range i.manifest {
		if err := i.addOne(ctx, path); err != nil {
			fields := logging.LifecycleFields("install", i.cache.Name())
			fields["path"] = path
			fields["error"] = err.Error()
			i.logger.WithFields(fields).Warn("precache_asset_failed")
			continue
		}
		populated++
	}

	fields := logging.LifecycleFields("install", i.cache.Name())
	fields["manifest"] = len(i.manifest)
	fields["populated"] = populated
	i.logger.WithFields(fields).Info("install_complete")
	return populated
}

func (i *Installer) addOne(ctx context.Context, path string) error {
	target := i.origin.Resolve(path, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 与浏览器 cache.addAll 一致：非 200 的资产不进缓存。
	if resp.StatusCode != http.StatusOK {
		return &unexpectedStatusError{status: resp.StatusCode}
	}

	// 超过缓存上限的资产不能截断入库，按预热失败处理。
	body, overflow, err := readLimited(resp.Body, i.maxBytes)
	if err != nil {
		return err
	}
	if overflow {
		return &oversizedAssetError{limit: i.maxBytes}
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)

	_, err = i.cache.Put(ctx, path, cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	})
	return err
}

type unexpectedStatusError struct {
	status int
}

func (e *unexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

type oversizedAssetError struct {
	limit int64
}

func (e *oversizedAssetError) Error() string {
	return fmt.Sprintf("body exceeds cache limit of %d bytes", e.limit)
}
