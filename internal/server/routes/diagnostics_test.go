package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/afero"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/metrics"
	"github.com/imgcache/imgcache/internal/origin"
)

func newManager(t *testing.T, fs afero.Fs, recorder cache.Metrics) *cache.Manager {
	t.Helper()
	transport := cache.TransportFunc(func(ctx context.Context, req cache.FetchRequest) error {
		return afero.WriteFile(fs, req.Destination, []byte("img"), 0o644)
	})
	manager, err := cache.NewManager(cache.ManagerOptions{
		Root:      "/srv/cache",
		Store:     cache.NewStore(fs, logging.Discard()),
		Transport: transport,
		Metrics:   recorder,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return manager
}

func TestStatusReportsUsageAndOrigins(t *testing.T) {
	fs := afero.NewMemMapFs()
	manager := newManager(t, fs, nil)
	if _, err := manager.CacheImage(context.Background(), "https://a.com/x.png", cache.Options{}); err != nil {
		t.Fatalf("CacheImage error: %v", err)
	}

	registry, err := origin.NewRegistry(&config.Config{
		Origins: []config.OriginConfig{
			{Name: "zeta", Host: "z.example.com", QueryMode: config.QueryModeAll},
			{Name: "alpha", Host: "a.example.com", Username: "u", Password: "p", Proxy: "http://proxy:8080"},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	app := fiber.New()
	RegisterStatusRoutes(app, manager, registry)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Cache.BaseDir != "/srv/cache/image-cache" {
		t.Fatalf("unexpected base dir %q", payload.Cache.BaseDir)
	}
	if payload.Cache.Usage.Files != 1 || payload.Cache.Usage.Bytes != 3 {
		t.Fatalf("unexpected usage %+v", payload.Cache.Usage)
	}
	if len(payload.Origins) != 2 || payload.Origins[0].Name != "alpha" {
		t.Fatalf("expected sorted origins, got %+v", payload.Origins)
	}
	if payload.Origins[0].AuthMode != "basic" || !payload.Origins[0].Proxied {
		t.Fatalf("unexpected alpha payload %+v", payload.Origins[0])
	}
	if payload.Origins[1].QueryMode != "all" {
		t.Fatalf("unexpected zeta payload %+v", payload.Origins[1])
	}
	if !strings.HasPrefix(payload.Version, "imgcache ") {
		t.Fatalf("unexpected version %q", payload.Version)
	}
}

func TestMetricsRouteServesPrometheus(t *testing.T) {
	provider, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New error: %v", err)
	}
	defer provider.Shutdown(context.Background())

	fs := afero.NewMemMapFs()
	manager := newManager(t, fs, provider)
	if _, err := manager.CacheImage(context.Background(), "https://a.com/x.png", cache.Options{}); err != nil {
		t.Fatalf("CacheImage error: %v", err)
	}

	app := fiber.New()
	RegisterMetricsRoute(app, provider.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "imgcache_downloads") {
		t.Fatalf("expected download counter in output:\n%s", body)
	}
}

func TestRegisterIgnoresNilDependencies(t *testing.T) {
	app := fiber.New()
	RegisterStatusRoutes(app, nil, nil)
	RegisterMetricsRoute(app, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 without registration, got %d", resp.StatusCode)
	}
}
