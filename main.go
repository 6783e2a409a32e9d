package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/swr-gateway/internal/config"
	"github.com/any-hub/swr-gateway/internal/handler"
	"github.com/any-hub/swr-gateway/internal/logging"
	"github.com/any-hub/swr-gateway/internal/server"
	"github.com/any-hub/swr-gateway/internal/server/routes"
	"github.com/any-hub/swr-gateway/internal/upstream"
	"github.com/any-hub/swr-gateway/internal/version"
)

// configEnv 允许通过环境变量指定配置文件路径，--config 优先。
const configEnv = "SWR_GATEWAY_CONFIG"

// shutdownTimeout 是收到退出信号后等待进行中请求完成的上限。
const shutdownTimeout = 10 * time.Second

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

// run 监听 SIGINT/SIGTERM 并执行 runContext，返回退出码。
func run(opts cliOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runContext(ctx, opts)
}

// runContext 按“配置 → 日志 → 注册表 → 上游客户端 → handler → 预热 → HTTP 服务”
// 的顺序启动，ctx 结束时优雅关闭。
func runContext(ctx context.Context, opts cliOptions) int {
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
		fields["endpoints"] = len(cfg.Endpoints)
		fields["auth_modes"] = config.AuthModes(cfg.Endpoints)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewEndpointRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Endpoint 注册表失败: %v\n", err)
		return 1
	}

	client := upstream.NewClient(server.NewUpstreamClient(cfg), cfg.Global.MaxBodyBytes)
	h, err := handler.New(registry, client, handler.OptionsFromConfig(cfg.Global), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["endpoints"] = len(cfg.Endpoints)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["auth_modes"] = config.AuthModes(cfg.Endpoints)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.Global.Warmup {
		warmed := h.Warmup(ctx)
		logger.WithFields(logrus.Fields{
			"action":    "warmup",
			"warmed":    warmed,
			"endpoints": len(cfg.Endpoints),
		}).Info("预热完成")
	}

	if err := startHTTPServer(ctx, cfg, registry, h, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
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

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.EndpointRegistry, h *handler.Handler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Registry:     registry,
		Handler:      h,
		ListenPort:   port,
		AllowOrigins: cfg.Global.AllowOrigins,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticRoutes(app, registry, h)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		_ = ln.Close()
		logger.WithFields(logrus.Fields{
			"action": "shutdown",
			"port":   port,
		}).Info("Fiber 服务已停止")
		return err
	})
	return g.Wait()
}
