package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiaocaoooo/mobile-screenshot/internal/capture"
	"github.com/xiaocaoooo/mobile-screenshot/internal/chromium"
	"github.com/xiaocaoooo/mobile-screenshot/internal/config"
	"github.com/xiaocaoooo/mobile-screenshot/internal/encode"
	"github.com/xiaocaoooo/mobile-screenshot/internal/server"
)

var (
	version = "development"
	commit  = "n/a"
)

func flags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			EnvVars: []string{"PORT"},
			Value:   d.Port,
			Usage:   "HTTP listen `PORT` (or host:port)",
		},
		&cli.StringFlag{
			Name:    "chromium-pack-url",
			EnvVars: []string{"CHROMIUM_PACK_URL"},
			Usage:   "URL of a chromium pack tar, or a local browser executable `PATH`",
		},
		&cli.StringFlag{
			Name:    "chromium-cache-dir",
			EnvVars: []string{"CHROMIUM_CACHE_DIR"},
			Value:   d.ChromiumCacheDir,
			Usage:   "`DIR` the chromium pack is unpacked into",
		},
		&cli.DurationFlag{
			Name:    "navigation-timeout",
			EnvVars: []string{"NAVIGATION_TIMEOUT"},
			Value:   d.NavigationTimeout,
			Usage:   "overall budget for page load and network idle",
		},
		&cli.IntFlag{
			Name:    "idle-connections",
			EnvVars: []string{"IDLE_CONNECTIONS"},
			Value:   d.IdleConnections,
			Usage:   "maximum open connections for the page to count as idle",
		},
		&cli.DurationFlag{
			Name:    "idle-window",
			EnvVars: []string{"IDLE_WINDOW"},
			Value:   d.IdleWindow,
			Usage:   "how long the idle condition must hold",
		},
		&cli.DurationFlag{
			Name:    "shutdown-timeout",
			EnvVars: []string{"SHUTDOWN_TIMEOUT"},
			Value:   d.ShutdownTimeout,
			Usage:   "graceful shutdown budget",
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   d.LogLevel,
			Usage:   "`LEVEL`: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:    "log-format",
			EnvVars: []string{"LOG_FORMAT"},
			Value:   d.LogFormat,
			Usage:   "`FORMAT`: json or console",
		},
	}
}

func configFromCLI(c *cli.Context) config.Config {
	return config.Config{
		Port:              c.String("port"),
		ChromiumPackURL:   c.String("chromium-pack-url"),
		ChromiumCacheDir:  c.String("chromium-cache-dir"),
		NavigationTimeout: c.Duration("navigation-timeout"),
		IdleConnections:   c.Int("idle-connections"),
		IdleWindow:        c.Duration("idle-window"),
		ShutdownTimeout:   c.Duration("shutdown-timeout"),
		LogLevel:          c.String("log-level"),
		LogFormat:         c.String("log-format"),
	}.Normalize()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(c *cli.Context) error {
	cfg := configFromCLI(c)

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting screenshot server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("addr", cfg.Addr()))

	metrics := server.NewMetrics("screenshot")
	opts := server.Options{Metrics: metrics, Logger: logger}

	// 浏览器定位配置缺失不阻止启动：健康检查报告 degraded，截图请求统一返回 500
	if cfgErr := cfg.Validate(); cfgErr != nil {
		logger.Warn("browser locator is not configured, captures will fail", zap.Error(cfgErr))
		opts.ConfigErr = cfgErr
	} else {
		resolver := chromium.NewResolver(cfg.ChromiumPackURL, cfg.ChromiumCacheDir, nil, logger)
		opts.Capturer = capture.NewPipeline(
			capture.NewChromeLauncher(resolver, logger),
			encode.NewWebP(),
			capture.WithNavigator(capture.Navigator{
				Timeout: cfg.NavigationTimeout,
				Idle: capture.IdleCondition{
					MaxInflight: cfg.IdleConnections,
					Quiet:       cfg.IdleWindow,
				},
			}),
			capture.WithRecorder(metrics),
			capture.WithLogger(logger),
		)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server start failed", zap.Error(err))
			return cli.Exit(err.Error(), 1)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:    "screenshot-server",
		Usage:   "Render a page in a mobile-emulated headless browser and return a WebP screenshot.",
		Version: version,
		Flags:   flags(),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
