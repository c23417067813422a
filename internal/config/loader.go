package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认预热清单与原始部署保持一致：根文档、HTML 入口、应用 manifest 与站点图标。
// 需要更完整的离线资产列表时，在 config.toml 的 Worker.Precache 中覆盖。
var defaultPrecache = []string{"/", "/index.html", "/manifest.json", "/vite.svg"}

var (
	defaultDevHosts       = []string{"localhost:5173", "127.0.0.1:5173"}
	defaultExcludeMarkers = []string{"/src/", "/api/", "/@vite"}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	applyMetadataDefaults(&cfg.Metadata)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxCacheableBytes", 8*1024*1024)
	v.SetDefault("Metadata.Enabled", true)
	v.SetDefault("Metadata.CacheTTL", "10m")
	v.SetDefault("Metadata.FetchTimeout", "8s")
	v.SetDefault("Metadata.MaxBodyBytes", 1024*1024)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxCacheableBytes == 0 {
		g.MaxCacheableBytes = 8 * 1024 * 1024
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	if strings.TrimSpace(w.CacheName) == "" {
		w.CacheName = "practice-timer-v1"
	}
	if len(w.Precache) == 0 {
		w.Precache = append([]string(nil), defaultPrecache...)
	}
	if len(w.DevHosts) == 0 {
		w.DevHosts = append([]string(nil), defaultDevHosts...)
	}
	if len(w.ExcludeMarkers) == 0 {
		w.ExcludeMarkers = append([]string(nil), defaultExcludeMarkers...)
	}
}

func applyMetadataDefaults(m *MetadataConfig) {
	if m.CacheTTL.DurationValue() == 0 {
		m.CacheTTL = Duration(10 * time.Minute)
	}
	if m.FetchTimeout.DurationValue() == 0 {
		m.FetchTimeout = Duration(8 * time.Second)
	}
	if m.MaxBodyBytes == 0 {
		m.MaxBodyBytes = 1024 * 1024
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
