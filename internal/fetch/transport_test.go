package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
)

func TestFetchWritesBodyToDestination(t *testing.T) {
	var gotAuth, gotConn, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotConn = r.Header.Get("Proxy-Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer upstream.Close()

	fs := afero.NewMemMapFs()
	transport := NewHTTPTransport(upstream.Client(), fs)
	dest := "/cache/image-cache/host/abc.png"

	err := transport.Fetch(context.Background(), cache.FetchRequest{
		URL:         upstream.URL + "/img.png",
		Destination: dest,
		Headers: map[string]string{
			"Authorization":       "Bearer abc",
			"Proxy-Authorization": "leak",
		},
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}

	data, err := afero.ReadFile(fs, dest)
	if err != nil {
		t.Fatalf("read dest error: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected body %q", data)
	}
	if gotAuth != "Bearer abc" {
		t.Fatalf("authorization header not forwarded: %q", gotAuth)
	}
	if gotConn != "" {
		t.Fatalf("hop-by-hop header should be dropped, got %q", gotConn)
	}
	if gotUA == "" {
		t.Fatalf("user agent should be set")
	}

	entries, _ := afero.ReadDir(fs, "/cache/image-cache/host")
	if len(entries) != 1 {
		t.Fatalf("temporary files should not remain, found %d entries", len(entries))
	}
}

func TestFetchNon2xxIsStatusError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer upstream.Close()

	fs := afero.NewMemMapFs()
	transport := NewHTTPTransport(upstream.Client(), fs)
	dest := "/cache/x.jpg"
	err := transport.Fetch(context.Background(), cache.FetchRequest{URL: upstream.URL + "/x.jpg", Destination: dest})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if exists, _ := afero.Exists(fs, dest); exists {
		t.Fatalf("destination must not be created on error status")
	}
}

func TestFetchHonoursContextCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fs := afero.NewMemMapFs()
	err := NewHTTPTransport(upstream.Client(), fs).Fetch(ctx, cache.FetchRequest{URL: upstream.URL, Destination: "/cache/y.jpg"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchUsesPerHostProxy(t *testing.T) {
	var proxied atomic.Int64
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		if r.URL.Host != "images.internal" {
			http.Error(w, "unexpected host "+r.URL.Host, http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("via-proxy"))
	}))
	defer proxy.Close()

	proxyURL, _ := url.Parse(proxy.URL)
	fs := afero.NewMemMapFs()
	cfg := &config.Config{Global: config.GlobalConfig{UpstreamTimeout: config.Duration(5e9)}}
	transport := NewHTTPTransport(NewUpstreamClient(cfg), fs, WithProxies(map[string]*url.URL{
		"Images.Internal": proxyURL,
	}))

	dest := "/cache/p.jpg"
	if err := transport.Fetch(context.Background(), cache.FetchRequest{URL: "http://images.internal/p.jpg", Destination: dest}); err != nil {
		t.Fatalf("fetch via proxy error: %v", err)
	}
	if proxied.Load() != 1 {
		t.Fatalf("expected request to go through proxy")
	}
	data, _ := afero.ReadFile(fs, dest)
	if string(data) != "via-proxy" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestIsHopByHopHeader(t *testing.T) {
	if !IsHopByHopHeader("connection") || IsHopByHopHeader("Authorization") {
		t.Fatalf("hop-by-hop detection mismatch")
	}
}
