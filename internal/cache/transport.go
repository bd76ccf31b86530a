package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imgcache/imgcache/internal/logging"
)

// FetchRequest 描述一次下载：把 URL 的响应体流式写入 Destination。
type FetchRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Destination string
}

// Transport 是网络协作方。实现需要把响应体写入 Destination，失败时返回错误；
// 部分写入的清理由 Coordinator 负责。
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest) error
}

// TransportFunc 将函数适配为 Transport，主要用于测试。
type TransportFunc func(ctx context.Context, req FetchRequest) error

// Fetch makes TransportFunc satisfy Transport.
func (f TransportFunc) Fetch(ctx context.Context, req FetchRequest) error {
	return f(ctx, req)
}

// Metrics 接收缓存层的观测数据。
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	RecordLookup(ctx context.Context, group string, hit bool)
	RecordDownload(ctx context.Context, group string, duration time.Duration, err error)
	RecordJoin(ctx context.Context, group string)
	RecordPrefetch(ctx context.Context, report PrefetchReport)
}

type nopMetrics struct{}

func (nopMetrics) RecordLookup(context.Context, string, bool)                   {}
func (nopMetrics) RecordDownload(context.Context, string, time.Duration, error) {}
func (nopMetrics) RecordJoin(context.Context, string)                           {}
func (nopMetrics) RecordPrefetch(context.Context, PrefetchReport)               {}

func ensureMetrics(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func ensureLogger(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	return logging.Discard()
}
