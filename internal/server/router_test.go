package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsToFetchHandler(t *testing.T) {
	recorder := &fetchRecorder{}
	app := newTestApp(t, recorder, nil)

	req := httptest.NewRequest("GET", "http://app.local/assets/index.css", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 from recorder, got %d", resp.StatusCode)
	}
	if recorder.path != "/assets/index.css" {
		t.Fatalf("fetch handler saw wrong path: %s", recorder.path)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}

func TestRouterRegistersMetadataBeforeCatchAll(t *testing.T) {
	recorder := &fetchRecorder{}
	metadataHit := false
	app := newTestApp(t, recorder, func(c fiber.Ctx) error {
		metadataHit = true
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "http://app.local/api/metadata?url=https://example.com", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 from metadata handler, got %d", resp.StatusCode)
	}
	if !metadataHit {
		t.Fatal("metadata handler was not invoked")
	}
	if recorder.calls != 0 {
		t.Fatalf("metadata request must not reach the interceptor, calls=%d", recorder.calls)
	}
}

func TestRouterDiagnosticsPathSkipsInterceptor(t *testing.T) {
	recorder := &fetchRecorder{}
	app := newTestApp(t, recorder, nil)
	app.Get("/-/caches", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "http://app.local/-/caches", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected diagnostics 200, got %d", resp.StatusCode)
	}
	if recorder.calls != 0 {
		t.Fatalf("diagnostics request must not reach the interceptor, calls=%d", recorder.calls)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, err := NewApp(AppOptions{Fetch: &fetchRecorder{}, ListenPort: 5000}); err == nil {
		t.Fatal("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, ListenPort: 5000}); err == nil {
		t.Fatal("missing fetch handler should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Fetch: &fetchRecorder{}}); err == nil {
		t.Fatal("missing listen port should fail")
	}
}

type fetchRecorder struct {
	calls int
	path  string
}

func (r *fetchRecorder) Handle(c fiber.Ctx) error {
	r.calls++
	r.path = string(c.Request().URI().Path())
	return c.SendStatus(fiber.StatusNoContent)
}

func newTestApp(t *testing.T, fetch FetchHandler, metadata fiber.Handler) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Fetch:      fetch,
		Metadata:   metadata,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}
