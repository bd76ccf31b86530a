package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/imgcache/imgcache/internal/cache"
)

// Recorder 实现 cache.Metrics。
type Recorder struct {
	lookups      metric.Int64Counter
	downloads    metric.Int64Counter
	errors       metric.Int64Counter
	joins        metric.Int64Counter
	prefetched   metric.Int64Counter
	durationHist metric.Float64Histogram
}

var _ cache.Metrics = (*Recorder)(nil)

// NewRecorder 在给定 meter 上注册全部 instrument。
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	lookups, err := meter.Int64Counter(
		"imgcache.lookups",
		metric.WithDescription("Cache lookups by group and hit/miss"),
	)
	if err != nil {
		return nil, err
	}

	downloads, err := meter.Int64Counter(
		"imgcache.downloads",
		metric.WithDescription("Upstream downloads started by the coordinator"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"imgcache.download.errors",
		metric.WithDescription("Upstream downloads that failed"),
	)
	if err != nil {
		return nil, err
	}

	joins, err := meter.Int64Counter(
		"imgcache.download.joins",
		metric.WithDescription("Callers that joined an in-flight download"),
	)
	if err != nil {
		return nil, err
	}

	prefetched, err := meter.Int64Counter(
		"imgcache.prefetch.urls",
		metric.WithDescription("Prefetch URLs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"imgcache.download.duration_ms",
		metric.WithDescription("Upstream download duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		lookups:      lookups,
		downloads:    downloads,
		errors:       errorCount,
		joins:        joins,
		prefetched:   prefetched,
		durationHist: durationHist,
	}, nil
}

func (r *Recorder) RecordLookup(ctx context.Context, group string, hit bool) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group", group),
		attribute.Bool("hit", hit),
	))
}

func (r *Recorder) RecordDownload(ctx context.Context, group string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("group", group))
	r.downloads.Add(ctx, 1, opt)
	if err != nil {
		r.errors.Add(ctx, 1, opt)
	}
	r.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (r *Recorder) RecordJoin(ctx context.Context, group string) {
	r.joins.Add(ctx, 1, metric.WithAttributes(attribute.String("group", group)))
}

func (r *Recorder) RecordPrefetch(ctx context.Context, report cache.PrefetchReport) {
	outcomes := []struct {
		name  string
		count int
	}{
		{"skipped", report.Skipped},
		{"hit", report.Hits},
		{"downloaded", report.Downloaded},
		{"failed", report.Failed},
	}
	for _, outcome := range outcomes {
		if outcome.count == 0 {
			continue
		}
		r.prefetched.Add(ctx, int64(outcome.count), metric.WithAttributes(attribute.String("outcome", outcome.name)))
	}
}
