package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/version"
)

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// HTTPTransport 通过 net/http 下载图片并写入 afero 文件系统。
type HTTPTransport struct {
	client    *http.Client
	fs        afero.Fs
	userAgent string
	// proxied 按 host 保存配置了转发代理的 client，构造时一次性创建。
	proxied map[string]*http.Client
}

// Option 调整 HTTPTransport 的可选行为。
type Option func(*HTTPTransport)

// WithProxies 为指定 host 设置转发代理。
func WithProxies(proxies map[string]*url.URL) Option {
	return func(t *HTTPTransport) {
		for host, proxyURL := range proxies {
			if proxyURL == nil {
				continue
			}
			t.proxied[strings.ToLower(host)] = cloneWithProxy(t.client, proxyURL)
		}
	}
}

// WithUserAgent 覆盖默认 User-Agent。
func WithUserAgent(ua string) Option {
	return func(t *HTTPTransport) {
		t.userAgent = ua
	}
}

// NewHTTPTransport 构造下载器；client 为 nil 时使用默认配置的共享 client。
func NewHTTPTransport(client *http.Client, fsys afero.Fs, opts ...Option) *HTTPTransport {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	t := &HTTPTransport{
		client:    client,
		fs:        fsys,
		userAgent: "imgcache/" + version.Version,
		proxied:   make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ cache.Transport = (*HTTPTransport)(nil)

// Fetch 实现 cache.Transport：请求 URL 并把响应体流式写入 Destination。
func (t *HTTPTransport) Fetch(ctx context.Context, fr cache.FetchRequest) error {
	method := fr.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, fr.URL, nil)
	if err != nil {
		return err
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	applyHeaders(req, fr.Headers)

	resp, err := t.clientFor(req.URL).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: fr.URL, StatusCode: resp.StatusCode}
	}

	return t.writeFile(ctx, fr.Destination, resp.Body)
}

func (t *HTTPTransport) writeFile(ctx context.Context, dest string, body io.Reader) error {
	dir := filepath.Dir(dest)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(t.fs, dir, ".download-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = t.fs.Remove(tempName)
		return err
	}

	if err := t.fs.Rename(tempName, dest); err != nil {
		_ = t.fs.Remove(tempName)
		return err
	}
	return nil
}

func (t *HTTPTransport) clientFor(u *url.URL) *http.Client {
	if client, ok := t.proxied[strings.ToLower(u.Host)]; ok {
		return client
	}
	return t.client
}

func cloneWithProxy(base *http.Client, proxyURL *url.URL) *http.Client {
	var transport *http.Transport
	if bt, ok := base.Transport.(*http.Transport); ok && bt != nil {
		transport = bt.Clone()
	} else {
		transport = defaultTransport.Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	client := *base
	client.Transport = transport
	return &client
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
