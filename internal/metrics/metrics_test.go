package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/imgcache/imgcache/internal/cache"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	result := make(map[string]metricdata.Aggregation)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			result[m.Name] = m.Data
		}
	}
	return result
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected aggregation %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorderCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	recorder, err := NewRecorder(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewRecorder error: %v", err)
	}

	ctx := context.Background()
	recorder.RecordLookup(ctx, "a.com", true)
	recorder.RecordLookup(ctx, "a.com", false)
	recorder.RecordDownload(ctx, "a.com", 20*time.Millisecond, nil)
	recorder.RecordDownload(ctx, "a.com", 5*time.Millisecond, errors.New("boom"))
	recorder.RecordJoin(ctx, "a.com")
	recorder.RecordPrefetch(ctx, cache.PrefetchReport{Requested: 4, Skipped: 1, Downloaded: 2, Failed: 1})

	got := collect(t, reader)
	if n := sumOf(t, got["imgcache.lookups"]); n != 2 {
		t.Fatalf("expected 2 lookups, got %d", n)
	}
	if n := sumOf(t, got["imgcache.downloads"]); n != 2 {
		t.Fatalf("expected 2 downloads, got %d", n)
	}
	if n := sumOf(t, got["imgcache.download.errors"]); n != 1 {
		t.Fatalf("expected 1 error, got %d", n)
	}
	if n := sumOf(t, got["imgcache.download.joins"]); n != 1 {
		t.Fatalf("expected 1 join, got %d", n)
	}
	if n := sumOf(t, got["imgcache.prefetch.urls"]); n != 4 {
		t.Fatalf("expected 4 prefetch outcomes, got %d", n)
	}

	hist, ok := got["imgcache.download.duration_ms"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("unexpected histogram %+v", got["imgcache.download.duration_ms"])
	}
}

func TestProviderServesPrometheusText(t *testing.T) {
	provider, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer provider.Shutdown(context.Background())

	provider.RecordLookup(context.Background(), "cdn", true)

	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(string(body), "imgcache_lookups") {
		t.Fatalf("expected lookup metric in scrape output:\n%s", body)
	}
}
