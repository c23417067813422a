package integration

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/config"
	"github.com/practice-timer/swgate/internal/server"
	"github.com/practice-timer/swgate/internal/worker"
)

// gatewayEnv 在进程内搭建一套完整的网关：磁盘缓存 + 拦截器 + Fiber 应用，
// 上游指向测试桩。各集成用例共享这套装配方式。
type gatewayEnv struct {
	cfg     *config.Config
	storage cache.Storage
	current cache.Cache
	origin  *server.Origin
	app     *fiber.App
	logger  *logrus.Logger
}

func newGatewayEnv(t *testing.T, upstreamURL string, mutate func(*config.Config)) *gatewayEnv {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:        5000,
			StoragePath:       t.TempDir(),
			UpstreamTimeout:   config.Duration(5 * time.Second),
			MaxCacheableBytes: 8 * 1024 * 1024,
		},
		Worker: config.WorkerConfig{
			CacheName:      "practice-timer-v1",
			Upstream:       upstreamURL,
			DevHosts:       []string{"localhost:5173"},
			ExcludeMarkers: []string{"/src/", "/api/", "/@vite"},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	origin, err := server.NewOrigin(cfg)
	if err != nil {
		t.Fatalf("origin error: %v", err)
	}

	storage, err := cache.NewStorage(cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	current, err := storage.Open(cfg.Worker.CacheName)
	if err != nil {
		t.Fatalf("open cache error: %v", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	policy := worker.NewExclusionPolicy(cfg.Worker.DevHosts, cfg.Worker.ExcludeMarkers)
	interceptor := worker.NewInterceptor(
		httpClient, logger, current, origin, policy,
		cfg.Global.MaxCacheableBytes,
	)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      interceptor,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	return &gatewayEnv{
		cfg:     cfg,
		storage: storage,
		current: current,
		origin:  origin,
		app:     app,
		logger:  logger,
	}
}

// waitForEntry 轮询等待后台缓存写入落盘。
func waitForEntry(t *testing.T, c cache.Cache, key string) *cache.Entry {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := c.Match(context.Background(), key)
		if err == nil {
			entry := result.Entry
			result.Reader.Close()
			return &entry
		}
		if !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("cache match error: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("缓存条目 %s 未在期限内写入", key)
	return nil
}

// assertNoEntry 确认某个 key 始终没有进入缓存。
func assertNoEntry(t *testing.T, c cache.Cache, key string) {
	t.Helper()

	// 给潜在的异步写入留出落盘时间。
	time.Sleep(100 * time.Millisecond)
	result, err := c.Match(context.Background(), key)
	if err == nil {
		result.Reader.Close()
		t.Fatalf("key %s 不应被缓存", key)
	}
	if !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("cache match error: %v", err)
	}
}
