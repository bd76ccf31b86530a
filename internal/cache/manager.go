package cache

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// ManagerOptions 汇总 Manager 的依赖，Store/Transport 必填，其余可为空。
type ManagerOptions struct {
	// Root 是缓存根目录，实际目录为 Root/image-cache。
	Root      string
	Store     Store
	Transport Transport
	Logger    *logrus.Logger
	Metrics   Metrics
	// PrefetchConcurrency 限制批量预取的 worker 数，0 表示与 URL 数量相同。
	PrefetchConcurrency int
}

// Manager 是缓存的对外门面，组合路径解析、存储检查与下载去重。
type Manager struct {
	resolver    Resolver
	store       Store
	coordinator *Coordinator
	logger      *logrus.Logger
	metrics     Metrics
	concurrency int
}

// NewManager 构造 Manager 并确保缓存根目录存在。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("cache root required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport required")
	}

	logger := ensureLogger(opts.Logger)
	metrics := ensureMetrics(opts.Metrics)
	m := &Manager{
		resolver:    Resolver{Root: opts.Root},
		store:       opts.Store,
		coordinator: NewCoordinator(opts.Transport, opts.Store, logger, metrics),
		logger:      logger,
		metrics:     metrics,
		concurrency: opts.PrefetchConcurrency,
	}
	if err := opts.Store.MkdirAll(context.Background(), m.resolver.BaseDir()); err != nil {
		return nil, err
	}
	return m, nil
}

// IsCacheable 仅接受 http:// 与 https:// 开头的 URL。
func IsCacheable(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// IsCacheable is the method form of the package-level IsCacheable.
func (m *Manager) IsCacheable(url string) bool {
	return IsCacheable(url)
}

// BaseDir 返回缓存目录。
func (m *Manager) BaseDir() string {
	return m.resolver.BaseDir()
}

// ResolvePath 计算 URL 的存储路径，不访问文件系统。
func (m *Manager) ResolvePath(url string, opts Options) (string, error) {
	return m.resolver.Resolve(url, opts)
}

// Store exposes the underlying store for read access (e.g. streaming cached bytes).
func (m *Manager) Store() Store {
	return m.store
}

// GetCachedImagePath 返回已缓存文件的路径；文件不存在、不是普通文件或为 0 字节时返回 ErrCacheMiss。
// 0 字节文件会在返回前被删除。
func (m *Manager) GetCachedImagePath(ctx context.Context, url string, opts Options) (string, error) {
	path, err := m.resolver.Resolve(url, opts)
	if err != nil {
		return "", err
	}

	group := groupOf(path)
	if !m.store.IsValidCachedFile(ctx, path) {
		// 区分真正的缺失与文件系统故障
		if _, err := m.store.Stat(ctx, path); err != nil && !errors.Is(err, ErrNotFound) {
			return "", err
		}
		m.metrics.RecordLookup(ctx, group, false)
		return "", ErrCacheMiss
	}
	m.metrics.RecordLookup(ctx, group, true)
	return path, nil
}

// CacheImage 下载 URL 到其存储路径并返回该路径。并发调用同一路径只会触发一次下载。
func (m *Manager) CacheImage(ctx context.Context, url string, opts Options) (string, error) {
	if !IsCacheable(url) {
		return "", invalidURL(url, nil)
	}
	path, err := m.resolver.Resolve(url, opts)
	if err != nil {
		return "", err
	}
	if err := m.store.EnsureDirectory(ctx, path); err != nil {
		return "", err
	}
	headers, err := resolveHeaders(ctx, opts.Headers)
	if err != nil {
		return "", err
	}
	return m.coordinator.FetchAndStore(ctx, url, path, headers)
}

// DeleteCachedImage 删除 URL 对应的缓存文件，文件不存在时同样成功。
func (m *Manager) DeleteCachedImage(ctx context.Context, url string, opts Options) error {
	path, err := m.resolver.Resolve(url, opts)
	if err != nil {
		return err
	}
	m.store.DeleteFile(ctx, path)
	return nil
}

// CacheMultipleImages 批量预取，单个 URL 失败不会影响其它 URL。
func (m *Manager) CacheMultipleImages(ctx context.Context, urls []string, opts Options) error {
	_, err := m.Prefetch(ctx, urls, opts)
	return err
}

// Prefetch 与 CacheMultipleImages 相同，但返回统计结果。
func (m *Manager) Prefetch(ctx context.Context, urls []string, opts Options) (PrefetchReport, error) {
	report, err := m.prefetch(ctx, urls, opts, m.concurrency)
	m.logger.WithFields(logrus.Fields{
		"action":     "prefetch",
		"requested":  report.Requested,
		"skipped":    report.Skipped,
		"hits":       report.Hits,
		"downloaded": report.Downloaded,
		"failed":     report.Failed,
	}).Info("prefetch_complete")
	return report, err
}

// DeleteMultipleCachedImages 按输入顺序逐个删除，不并发。
func (m *Manager) DeleteMultipleCachedImages(ctx context.Context, urls []string, opts Options) error {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.DeleteCachedImage(ctx, url, opts); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_delete",
				"url":    url,
			}).Debug("cache_delete_skipped")
		}
	}
	return nil
}

// ClearCache 删除整个缓存目录后重新创建空目录。删除是尽力而为，重建总会执行。
func (m *Manager) ClearCache(ctx context.Context) {
	base := m.resolver.BaseDir()
	m.store.RemoveAll(ctx, base)
	if err := m.store.MkdirAll(context.WithoutCancel(ctx), base); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_clear",
			"path":   base,
		}).Error("cache_recreate_failed")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"action": "cache_clear",
		"path":   base,
	}).Info("cache_cleared")
}

// Stats 描述缓存当前状态，供诊断接口使用。
type Stats struct {
	BaseDir  string `json:"base_dir"`
	InFlight int    `json:"in_flight"`
	Usage    Usage  `json:"usage"`
}

// Stats 汇总缓存目录占用与进行中的下载数。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	usage, err := m.store.Usage(ctx, m.resolver.BaseDir())
	return Stats{
		BaseDir:  m.resolver.BaseDir(),
		InFlight: m.coordinator.InFlight(),
		Usage:    usage,
	}, err
}

// Coordinator exposes the download table for diagnostics.
func (m *Manager) Coordinator() *Coordinator {
	return m.coordinator
}
