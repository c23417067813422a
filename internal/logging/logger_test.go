package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/config"
)

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	_, err := InitLogger(config.GlobalConfig{LogLevel: "verbose"})
	if err == nil {
		t.Fatal("无效日志级别应当报错")
	}
}

func TestInitLoggerStdoutWhenNoFile(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatal("未配置文件路径时应输出到 stdout")
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("unexpected level: %v", logger.GetLevel())
	}
}

func TestInitLoggerWritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "swgate.log")
	logger, err := InitLogger(config.GlobalConfig{
		LogLevel:    "debug",
		LogFilePath: logPath,
		LogMaxSize:  10,
	})
	if err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}

	logger.WithFields(LifecycleFields("install_complete", "practice-timer-v1")).Info("预热完成")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("日志应为 JSON 格式: %v", err)
	}
	if entry["action"] != "install_complete" {
		t.Fatalf("unexpected action field: %v", entry["action"])
	}
	if entry["cache"] != "practice-timer-v1" {
		t.Fatalf("unexpected cache field: %v", entry["cache"])
	}
}

func TestFetchFields(t *testing.T) {
	fields := FetchFields("practice-timer-v1", "/assets/app.js", "hit", true)
	if fields["decision"] != "hit" || fields["cache_hit"] != true {
		t.Fatalf("unexpected fetch fields: %v", fields)
	}
	if fields["path"] != "/assets/app.js" {
		t.Fatalf("unexpected path field: %v", fields["path"])
	}
}
