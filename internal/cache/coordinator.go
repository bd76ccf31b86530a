package cache

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Coordinator 保证同一存储路径同时最多只有一个下载在进行。后到的调用方会加入
// 已有下载并得到同一结果；下载结束（无论成败）后条目立即移除，之后的调用会重新下载。
type Coordinator struct {
	transport Transport
	store     Store
	logger    *logrus.Logger
	metrics   Metrics

	mu     sync.Mutex
	active map[string]*activeDownload
}

type activeDownload struct {
	done    chan struct{}
	waiters int

	path string
	err  error
}

// NewCoordinator 构建下载协调器，transport 与 store 不能为空。
func NewCoordinator(transport Transport, store Store, logger *logrus.Logger, metrics Metrics) *Coordinator {
	return &Coordinator{
		transport: transport,
		store:     store,
		logger:    ensureLogger(logger),
		metrics:   ensureMetrics(metrics),
		active:    make(map[string]*activeDownload),
	}
}

// FetchAndStore 下载 source 到 dest 并返回 dest。若 dest 已有下载在进行则等待其结果。
// ctx 只控制当前调用方的等待；放弃等待不会中断共享的下载。
func (c *Coordinator) FetchAndStore(ctx context.Context, source, dest string, headers map[string]string) (string, error) {
	c.mu.Lock()
	dl, joined := c.active[dest]
	if !joined {
		dl = &activeDownload{done: make(chan struct{})}
		c.active[dest] = dl
	}
	dl.waiters++
	c.mu.Unlock()

	group := groupOf(dest)
	if joined {
		c.metrics.RecordJoin(ctx, group)
	} else {
		go c.run(context.WithoutCancel(ctx), dl, source, dest, headers)
	}

	defer func() {
		c.mu.Lock()
		dl.waiters--
		c.mu.Unlock()
	}()

	select {
	case <-dl.done:
		return dl.path, dl.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run 执行共享下载。条目移除与 done 的关闭放在 defer 中，Transport panic 时
// 同样会结算为 TransportError，不会在表中留下悬挂条目。
func (c *Coordinator) run(ctx context.Context, dl *activeDownload, source, dest string, headers map[string]string) {
	started := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
		c.settle(ctx, dl, source, dest, started, err)
	}()

	err = c.transport.Fetch(ctx, FetchRequest{
		Method:      http.MethodGet,
		URL:         source,
		Headers:     headers,
		Destination: dest,
	})
}

func (c *Coordinator) settle(ctx context.Context, dl *activeDownload, source, dest string, started time.Time, err error) {
	defer func() {
		c.mu.Lock()
		delete(c.active, dest)
		c.mu.Unlock()
		close(dl.done)
	}()

	if err != nil {
		c.store.DeleteFile(ctx, dest)
		dl.err = &TransportError{URL: source, Err: err}
	} else {
		dl.path = dest
	}

	fields := logrus.Fields{
		"action":     "download",
		"url":        source,
		"path":       dest,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("download_failed")
	} else {
		c.logger.WithFields(fields).Debug("download_complete")
	}
	c.metrics.RecordDownload(ctx, groupOf(dest), time.Since(started), err)
}

// InFlight 返回当前正在进行的下载数量。
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Waiters 返回等待 dest 下载结果的调用方数量；没有进行中的下载时为 0。
func (c *Coordinator) Waiters(dest string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := c.active[dest]; ok {
		return dl.waiters
	}
	return 0
}

func groupOf(path string) string {
	return filepath.Base(filepath.Dir(path))
}
