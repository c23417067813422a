package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/practice-timer/swgate/internal/cache"
	"github.com/practice-timer/swgate/internal/config"
	"github.com/practice-timer/swgate/internal/logging"
	"github.com/practice-timer/swgate/internal/metadata"
	"github.com/practice-timer/swgate/internal/server"
	"github.com/practice-timer/swgate/internal/server/routes"
	"github.com/practice-timer/swgate/internal/version"
	"github.com/practice-timer/swgate/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
// 生命周期顺序与浏览器保持一致：install 完全落定后才执行 activate，
// activate 落定后服务才开始接管请求。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.Worker.CacheName
		fields["precache"] = len(cfg.Worker.Precache)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	origin, err := server.NewOrigin(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "解析上游地址失败: %v\n", err)
		return 1
	}

	storage, err := cache.NewStorage(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	current, err := storage.Open(cfg.Worker.CacheName)
	if err != nil {
		fmt.Fprintf(stdErr, "打开当前缓存失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	ctx := context.Background()

	// install：清单预热尽力而为，永不阻塞启动。
	installer := worker.NewInstaller(
		current, httpClient, origin, logger,
		cfg.Worker.Precache, cfg.Global.MaxCacheableBytes,
	)
	installer.Install(ctx)

	// activate：清扫一切名字不等于当前缓存名的陈旧缓存。
	worker.NewActivator(storage, cfg.Worker.CacheName, logger).Activate(ctx)

	policy := worker.NewExclusionPolicy(cfg.Worker.DevHosts, cfg.Worker.ExcludeMarkers)
	interceptor := worker.NewInterceptor(
		httpClient, logger, current, origin, policy,
		cfg.Global.MaxCacheableBytes,
	)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache"] = cfg.Worker.CacheName
	fields["upstream"] = cfg.Worker.Upstream
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, storage, httpClient, interceptor, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swgate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SWGATE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SWGATE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	storage cache.Storage,
	httpClient *http.Client,
	interceptor server.FetchHandler,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort

	opts := server.AppOptions{
		Logger:     logger,
		Fetch:      interceptor,
		ListenPort: port,
	}
	if cfg.Metadata.Enabled {
		fetcher := metadata.NewFetcher(httpClient, logger, cfg.Metadata)
		opts.Metadata = metadata.NewHandler(fetcher)
	}

	app, err := server.NewApp(opts)
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, storage, cfg.Worker.CacheName)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
