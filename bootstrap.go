package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
	"github.com/imgcache/imgcache/internal/fetch"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/metrics"
	"github.com/imgcache/imgcache/internal/origin"
	"github.com/imgcache/imgcache/internal/version"
)

// services 是所有子命令共享的组件集合。
type services struct {
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
	registry   *origin.Registry
	manager    *cache.Manager
	metrics    *metrics.Provider
}

// bootstrap 遵循“配置 → 日志 → Origin 注册表 → 传输层 → 缓存管理器”的顺序构建运行时。
// withMetrics 为 false 时缓存层使用空指标实现。
func bootstrap(configPath string, withMetrics bool) (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	registry, err := origin.NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Origin 注册表失败: %w", err)
	}

	rt := &services{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
	}

	var recorder cache.Metrics
	if withMetrics {
		provider, err := metrics.New()
		if err != nil {
			return nil, fmt.Errorf("初始化指标失败: %w", err)
		}
		rt.metrics = provider
		recorder = provider
	}

	fs := afero.NewOsFs()
	transport := fetch.NewHTTPTransport(
		fetch.NewUpstreamClient(cfg),
		fs,
		fetch.WithProxies(registry.Proxies()),
		fetch.WithUserAgent("imgcache/"+version.Version),
	)

	manager, err := cache.NewManager(cache.ManagerOptions{
		Root:                cfg.Global.StoragePath,
		Store:               cache.NewStore(fs, logger),
		Transport:           transport,
		Logger:              logger,
		Metrics:             recorder,
		PrefetchConcurrency: cfg.Global.PrefetchConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	rt.manager = manager
	return rt, nil
}

func (rt *services) baseFields(action string) logrus.Fields {
	fields := logging.BaseFields(action, rt.configPath)
	fields["origins"] = len(rt.cfg.Origins)
	fields["auth"] = config.AuthModes(rt.cfg.Origins)
	return fields
}
