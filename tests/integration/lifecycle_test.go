package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/server"
	"github.com/practice-timer/swgate/internal/server/routes"
	"github.com/practice-timer/swgate/internal/worker"
)

// 完整的启动序列：install 预热清单，activate 清扫旧缓存，
// /-/caches 诊断端点反映落定后的状态。
func TestStartupLifecycle(t *testing.T) {
	assets := map[string]string{
		"/":              "<html>root</html>",
		"/index.html":    "<html>index</html>",
		"/manifest.json": `{"name":"practice-timer"}`,
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := assets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer upstream.Close()

	env := newGatewayEnv(t, upstream.URL, nil)
	ctx := context.Background()

	// 模拟上一个版本残留的缓存。
	stale, err := env.storage.Open("practice-timer-v0")
	if err != nil {
		t.Fatalf("open stale cache error: %v", err)
	}
	if _, err := stale.Put(ctx, "/old.js", cache.Response{Status: http.StatusOK, Body: []byte("old")}); err != nil {
		t.Fatalf("put stale entry error: %v", err)
	}

	manifest := []string{"/", "/index.html", "/manifest.json", "/vite.svg"}
	installer := worker.NewInstaller(
		env.current, server.NewUpstreamClient(env.cfg), env.origin, env.logger,
		manifest, env.cfg.Global.MaxCacheableBytes,
	)
	populated := installer.Install(ctx)
	// /vite.svg 在桩上游返回 404，预热尽力而为地跳过它。
	if populated != 3 {
		t.Fatalf("expected 3 precached entries, got %d", populated)
	}

	removed := worker.NewActivator(env.storage, env.cfg.Worker.CacheName, env.logger).Activate(ctx)
	if removed != 1 {
		t.Fatalf("expected 1 stale cache removed, got %d", removed)
	}

	names, err := env.storage.Keys()
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 1 || names[0] != "practice-timer-v1" {
		t.Fatalf("activate 后应只剩当前缓存, got %v", names)
	}

	routes.RegisterCacheRoutes(env.app, env.storage, env.cfg.Worker.CacheName)
	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "http://app.local/-/caches", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 from diagnostics, got %d", resp.StatusCode)
	}

	var payload struct {
		Current string `json:"current"`
		Caches  []struct {
			Name    string `json:"name"`
			Entries int    `json:"entries"`
		} `json:"caches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode diagnostics error: %v", err)
	}
	if payload.Current != "practice-timer-v1" {
		t.Fatalf("unexpected current cache: %s", payload.Current)
	}
	if len(payload.Caches) != 1 || payload.Caches[0].Entries != 3 {
		t.Fatalf("unexpected diagnostics payload: %+v", payload.Caches)
	}

	// 预热过的条目即刻可离线命中。
	upstream.Close()
	hitResp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "http://app.local/index.html", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer hitResp.Body.Close()
	if hit := hitResp.Header.Get("X-Swgate-Cache-Hit"); hit != "true" {
		t.Fatalf("预热条目应直接命中, got %s", hit)
	}
}
