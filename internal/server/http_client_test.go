package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/practice-timer/swgate/internal/config"
)

func TestNewUpstreamClientTimeout(t *testing.T) {
	cfg := &config.Config{}
	cfg.Global.UpstreamTimeout = config.Duration(15 * time.Second)

	client := NewUpstreamClient(cfg)
	if client.Timeout != 15*time.Second {
		t.Fatalf("expected configured timeout, got %v", client.Timeout)
	}

	fallback := NewUpstreamClient(nil)
	if fallback.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %v", fallback.Timeout)
	}
}

func TestCopyHeadersStripsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "text/html")
	src.Set("Cache-Control", "max-age=600")
	src.Set("Connection", "keep-alive")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Proxy-Connection", "keep-alive")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if dst.Get("Content-Type") != "text/html" {
		t.Fatalf("Content-Type 未被复制: %v", dst)
	}
	if dst.Get("Cache-Control") != "max-age=600" {
		t.Fatalf("Cache-Control 未被复制: %v", dst)
	}
	for _, key := range []string{"Connection", "Transfer-Encoding", "Proxy-Connection"} {
		if dst.Get(key) != "" {
			t.Fatalf("hop-by-hop 头 %s 不应被复制", key)
		}
	}
	if got := dst.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("多值头应完整复制, got %v", got)
	}
}

func TestIsHopByHopHeader(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"Connection", true},
		{"connection", true},
		{"KEEP-ALIVE", true},
		{"Upgrade", true},
		{"Content-Type", false},
		{"X-Request-ID", false},
	}
	for _, tt := range tests {
		if got := IsHopByHopHeader(tt.key); got != tt.want {
			t.Fatalf("IsHopByHopHeader(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
