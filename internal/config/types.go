package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，Worker 与 Metadata 端点共享同一份参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	MaxCacheableBytes int64    `mapstructure:"MaxCacheableBytes"`
}

// WorkerConfig 决定缓存控制器的三个生命周期阶段如何工作：
// CacheName 是唯一的版本化缓存名，改名即整体失效；Precache 在 install 阶段
// 尽力预热；DevHosts/ExcludeMarkers 构成 fetch 拦截的排除规则。
type WorkerConfig struct {
	CacheName      string   `mapstructure:"CacheName"`
	Upstream       string   `mapstructure:"Upstream"`
	Precache       []string `mapstructure:"Precache"`
	DevHosts       []string `mapstructure:"DevHosts"`
	ExcludeMarkers []string `mapstructure:"ExcludeMarkers"`
}

// MetadataConfig 控制 /api/metadata 链接预览端点的抓取与记忆行为。
type MetadataConfig struct {
	Enabled      bool     `mapstructure:"Enabled"`
	CacheTTL     Duration `mapstructure:"CacheTTL"`
	FetchTimeout Duration `mapstructure:"FetchTimeout"`
	MaxBodyBytes int64    `mapstructure:"MaxBodyBytes"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Worker   WorkerConfig   `mapstructure:"Worker"`
	Metadata MetadataConfig `mapstructure:"Metadata"`
}
