package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/server"
	"github.com/imgcache/imgcache/internal/server/routes"
	"github.com/imgcache/imgcache/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(configPath(), true)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), rt)
		},
	}
}

func runServer(ctx context.Context, rt *services) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:   rt.logger,
		Manager:  rt.manager,
		Registry: rt.registry,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, rt.manager, rt.registry)
	routes.RegisterMetricsRoute(app, rt.metrics.Handler())

	fields := rt.baseFields("startup")
	fields["listen_port"] = rt.cfg.Global.ListenPort
	fields["storage"] = rt.manager.BaseDir()
	fields["version"] = version.Full()
	rt.logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", rt.cfg.Global.ListenPort), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务启动失败: %w", err)
	case <-ctx.Done():
	}

	rt.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，开始关闭")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		rt.logger.WithError(err).WithField("action", "shutdown").Warn("HTTP 服务关闭超时")
	}
	if err := rt.metrics.Shutdown(context.Background()); err != nil {
		rt.logger.WithError(err).WithField("action", "shutdown").Warn("指标关闭失败")
	}
	return nil
}

func newCheckConfigCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and exit",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			logger, err := logging.InitLogger(cfg.Global)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}

			fields := logging.BaseFields("check_config", path)
			fields["origins"] = len(cfg.Origins)
			fields["auth"] = config.AuthModes(cfg.Origins)
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func newPathCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "path <url>",
		Short: "Print the storage path of a URL and whether it is cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(configPath(), false)
			if err != nil {
				return err
			}
			raw := args[0]
			opts := rt.registry.OptionsFor(raw)
			path, err := rt.manager.ResolvePath(raw, opts)
			if err != nil {
				return err
			}
			_, err = rt.manager.GetCachedImagePath(cmd.Context(), raw, opts)
			cached := err == nil
			if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
				return err
			}
			fmt.Fprintf(stdOut, "%s\tcached=%t\n", path, cached)
			return nil
		},
	}
}

func newFetchCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Download URLs into the cache",
		Long:  "With one URL the download error is returned; with several URLs failures are counted and only cancellation aborts the batch.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(configPath(), false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 {
				path, err := rt.manager.CacheImage(ctx, args[0], rt.registry.OptionsFor(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(stdOut, path)
				return nil
			}

			var total cache.PrefetchReport
			for _, batch := range rt.registry.Partition(args) {
				report, err := rt.manager.Prefetch(ctx, batch.URLs, batch.Options)
				total = total.Merge(report)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(stdOut, "requested=%d skipped=%d hits=%d downloaded=%d failed=%d\n",
				total.Requested, total.Skipped, total.Hits, total.Downloaded, total.Failed)
			return nil
		},
	}
}

func newRmCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <url>...",
		Short: "Delete cached files for URLs, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(configPath(), false)
			if err != nil {
				return err
			}
			for _, run := range rt.registry.Runs(args) {
				if err := rt.manager.DeleteMultipleCachedImages(cmd.Context(), run.URLs, run.Options); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newClearCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(configPath(), false)
			if err != nil {
				return err
			}
			rt.manager.ClearCache(cmd.Context())
			return nil
		},
	}
}
