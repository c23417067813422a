package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲，
// 结束后自动还原，避免污染测试输出。
func useBufferWriters(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = outBuf, errBuf
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})

	return outBuf, errBuf
}

// writeConfigFile 把给定 TOML 内容写入临时目录并返回文件路径。
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

// validConfigTOML 构造一份可通过校验的最小配置，存储目录指向临时路径。
func validConfigTOML(t *testing.T) string {
	t.Helper()

	return fmt.Sprintf(`ListenPort = 5000
LogLevel = "info"
StoragePath = %q

[Worker]
CacheName = "practice-timer-v1"
Upstream = "https://assets.example.com"
`, filepath.Join(t.TempDir(), "storage"))
}
