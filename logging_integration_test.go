package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// 端到端验证：check-config 路径会把校验结果写入配置的 JSON 日志文件。
func TestCheckConfigWritesStructuredLog(t *testing.T) {
	useBufferWriters(t)

	logPath := filepath.Join(t.TempDir(), "logs", "swgate.log")
	content := fmt.Sprintf(`ListenPort = 5000
LogLevel = "info"
LogFilePath = %q
StoragePath = %q

[Worker]
CacheName = "practice-timer-v3"
Upstream = "https://assets.example.com"
Precache = ["/", "/index.html"]
`, logPath, filepath.Join(t.TempDir(), "storage"))

	path := writeConfigFile(t, content)
	if code := run(cliOptions{configPath: path, checkOnly: true}); code != 0 {
		t.Fatalf("check-config 应返回 0, got %d", code)
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("日志文件未生成: %v", err)
	}
	defer file.Close()

	found := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("日志应为逐行 JSON: %v", err)
		}
		if entry["action"] != "check_config" {
			continue
		}
		found = true
		if entry["cache"] != "practice-timer-v3" {
			t.Fatalf("unexpected cache field: %v", entry["cache"])
		}
		if entry["result"] != "ok" {
			t.Fatalf("unexpected result field: %v", entry["result"])
		}
		if entry["precache"] != float64(2) {
			t.Fatalf("unexpected precache count: %v", entry["precache"])
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("读取日志失败: %v", err)
	}
	if !found {
		t.Fatal("未找到 check_config 日志记录")
	}
}
