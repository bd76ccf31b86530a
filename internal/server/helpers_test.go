package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/afero"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
	"github.com/imgcache/imgcache/internal/fetch"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/origin"
)

const testRoot = "/var/lib/imgcache"

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image")

type upstreamStub struct {
	*httptest.Server
	hits   atomic.Int32
	apiKey atomic.Value
}

func newUpstream(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		stub.apiKey.Store(r.Header.Get("X-Api-Key"))
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (u *upstreamStub) host(t *testing.T) string {
	t.Helper()
	parsed, err := url.Parse(u.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	return parsed.Host
}

type testEnv struct {
	app      *fiber.App
	manager  *cache.Manager
	registry *origin.Registry
	upstream *upstreamStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	upstream := newUpstream(t)
	cfg := &config.Config{
		Global: config.GlobalConfig{QueryMode: config.QueryModeIgnore},
		Origins: []config.OriginConfig{
			{
				Name:       "upstream",
				Host:       upstream.host(t),
				CacheGroup: "upstream",
				Headers:    map[string]string{"x-api-key": "demo"},
			},
		},
	}
	registry, err := origin.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}

	fs := afero.NewMemMapFs()
	logger := logging.Discard()
	manager, err := cache.NewManager(cache.ManagerOptions{
		Root:      testRoot,
		Store:     cache.NewStore(fs, logger),
		Transport: fetch.NewHTTPTransport(fetch.NewUpstreamClient(cfg), fs),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	app, err := NewApp(AppOptions{Logger: logger, Manager: manager, Registry: registry})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	return &testEnv{app: app, manager: manager, registry: registry, upstream: upstream}
}

func (e *testEnv) imageURL(path string) string {
	return e.upstream.URL + path
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func withURL(path, raw string) string {
	return path + "?url=" + url.QueryEscape(raw)
}
