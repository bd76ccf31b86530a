package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/fetch"
)

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// classifyError 将缓存层错误映射为 HTTP 状态码与错误码。
func classifyError(err error) (int, string) {
	var (
		transportErr *cache.TransportError
		fsErr        *cache.FilesystemError
	)
	switch {
	case errors.Is(err, cache.ErrInvalidURL):
		return fiber.StatusBadRequest, "invalid_url"
	case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "cache_miss"
	case errors.As(err, &transportErr):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.As(err, &fsErr):
		return fiber.StatusInternalServerError, "storage_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return fiber.StatusRequestTimeout, "request_cancelled"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func (h *cacheHandler) fail(c fiber.Ctx, action, url string, err error) error {
	status, code := classifyError(err)

	fields := logrus.Fields{
		"action":     action,
		"status":     status,
		"request_id": RequestID(c),
	}
	if url != "" {
		fields["url"] = url
	}
	entry := h.logger.WithError(err).WithFields(fields)
	if status == fiber.StatusNotFound || status == fiber.StatusBadRequest {
		entry.Debug("cache_request_rejected")
	} else {
		entry.Warn("cache_request_failed")
	}

	payload := fiber.Map{"error": code}
	var statusErr *fetch.StatusError
	if errors.As(err, &statusErr) {
		payload["upstream_status"] = statusErr.StatusCode
	}
	return c.Status(status).JSON(payload)
}
