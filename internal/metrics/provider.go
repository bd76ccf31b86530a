package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/imgcache/imgcache/internal/cache"

// Provider 持有 MeterProvider、Recorder 以及 Prometheus 抓取入口。
type Provider struct {
	*Recorder

	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
}

// New 使用独立的 Prometheus registry 构建指标管线，避免污染全局 DefaultRegisterer。
func New() (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	recorder, err := NewRecorder(meterProvider.Meter(meterName))
	if err != nil {
		_ = meterProvider.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	return &Provider{
		Recorder:      recorder,
		meterProvider: meterProvider,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Handler 返回 Prometheus 文本格式的抓取 handler。
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown 刷新并关闭 MeterProvider。
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}
