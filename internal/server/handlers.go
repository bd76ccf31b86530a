package server

import (
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/origin"
)

// HeaderCacheHit 标记 /image 响应是否直接命中磁盘缓存。
const HeaderCacheHit = "X-Imgcache-Cache-Hit"

type cacheHandler struct {
	logger   *logrus.Logger
	manager  *cache.Manager
	registry *origin.Registry
}

type urlRequest struct {
	URL string `json:"url"`
}

type urlsRequest struct {
	URLs []string `json:"urls"`
}

type pathResponse struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// queryURL 复制 query 参数：fasthttp 的底层缓冲在请求结束后会被复用，
// 而下载可能比请求活得更久。
func queryURL(c fiber.Ctx) string {
	return strings.Clone(strings.TrimSpace(c.Query("url")))
}

func (h *cacheHandler) serveImage(c fiber.Ctx) error {
	raw := queryURL(c)
	if raw == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	ctx := requestContext(c)
	opts := h.registry.OptionsFor(raw)

	path, err := h.manager.GetCachedImagePath(ctx, raw, opts)
	hit := err == nil
	if errors.Is(err, cache.ErrCacheMiss) {
		path, err = h.manager.CacheImage(ctx, raw, opts)
	}
	if err != nil {
		return h.fail(c, "image", raw, err)
	}

	file, err := h.manager.Store().Open(ctx, path)
	if err != nil {
		return h.fail(c, "image", raw, err)
	}
	defer file.Close()

	c.Set(fiber.HeaderContentType, contentTypeFor(path))
	c.Set(HeaderCacheHit, strconv.FormatBool(hit))
	c.Status(fiber.StatusOK)
	if _, err := io.Copy(c.Response().BodyWriter(), file); err != nil {
		return h.fail(c, "image", raw, err)
	}

	h.logger.WithFields(logging.CacheFields("image", raw, opts.CacheGroup, hit)).
		WithField("request_id", RequestID(c)).
		Debug("image_served")
	return nil
}

func (h *cacheHandler) cachedPath(c fiber.Ctx) error {
	raw := queryURL(c)
	if raw == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	path, err := h.manager.GetCachedImagePath(requestContext(c), raw, h.registry.OptionsFor(raw))
	if err != nil {
		return h.fail(c, "cache_path", raw, err)
	}
	return c.JSON(pathResponse{URL: raw, Path: path})
}

func (h *cacheHandler) cacheImage(c fiber.Ctx) error {
	var req urlRequest
	if err := decodeBody(c, &req); err != nil || strings.TrimSpace(req.URL) == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	raw := strings.TrimSpace(req.URL)
	path, err := h.manager.CacheImage(requestContext(c), raw, h.registry.OptionsFor(raw))
	if err != nil {
		return h.fail(c, "cache_image", raw, err)
	}
	return c.JSON(pathResponse{URL: raw, Path: path})
}

func (h *cacheHandler) deleteImage(c fiber.Ctx) error {
	raw := queryURL(c)
	if raw == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	if err := h.manager.DeleteCachedImage(requestContext(c), raw, h.registry.OptionsFor(raw)); err != nil {
		return h.fail(c, "cache_delete", raw, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) deleteImages(c fiber.Ctx) error {
	var req urlsRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	ctx := requestContext(c)
	for _, run := range h.registry.Runs(req.URLs) {
		if err := h.manager.DeleteMultipleCachedImages(ctx, run.URLs, run.Options); err != nil {
			return h.fail(c, "cache_delete", "", err)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// prefetch 按 Origin 分批，各批次并发执行，合并统计结果。
// PrefetchConcurrency 作用于单个批次，不是整个请求的全局上限。
func (h *cacheHandler) prefetch(c fiber.Ctx) error {
	var req urlsRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}

	var (
		mu    sync.Mutex
		total cache.PrefetchReport
	)
	g, ctx := errgroup.WithContext(requestContext(c))
	for _, batch := range h.registry.Partition(cloneAll(req.URLs)) {
		g.Go(func() error {
			report, err := h.manager.Prefetch(ctx, batch.URLs, batch.Options)
			mu.Lock()
			total = total.Merge(report)
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return h.fail(c, "prefetch", "", err)
	}
	return c.JSON(total)
}

func (h *cacheHandler) clear(c fiber.Ctx) error {
	h.manager.ClearCache(requestContext(c))
	return c.SendStatus(fiber.StatusNoContent)
}

func decodeBody(c fiber.Ctx, out any) error {
	return c.App().Config().JSONDecoder(c.Body(), out)
}

func cloneAll(urls []string) []string {
	cloned := make([]string, len(urls))
	for i, raw := range urls {
		cloned[i] = strings.Clone(strings.TrimSpace(raw))
	}
	return cloned
}

// contentTypeFor 只按扩展名推断类型，缓存层不做内容嗅探。
func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return fiber.MIMEOctetStream
}
