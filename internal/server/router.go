package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/logging"
	"github.com/imgcache/imgcache/internal/origin"
)

// AppOptions controls the dependencies of the Fiber application.
type AppOptions struct {
	Logger  *logrus.Logger
	Manager *cache.Manager
	// Registry 可为空，此时所有 URL 使用默认缓存选项。
	Registry *origin.Registry
}

const contextKeyRequestID = "_imgcache_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and the image/cache endpoints.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Manager == nil {
		return nil, errors.New("cache manager is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &cacheHandler{
		logger:   opts.Logger,
		manager:  opts.Manager,
		registry: opts.Registry,
	}
	app.Get("/image", h.serveImage)
	app.Get("/-/cache/path", h.cachedPath)
	app.Post("/-/cache", h.cacheImage)
	app.Delete("/-/cache", h.deleteImage)
	app.Post("/-/cache/delete", h.deleteImages)
	app.Post("/-/prefetch", h.prefetch)
	app.Post("/-/clear", h.clear)

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		path := string(c.Request().URI().Path())
		fields := logging.RequestFields(c.Method(), path, reqID, c.Response().StatusCode())
		fields["action"] = "http"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Error("request_failed")
			return err
		}
		if isDiagnosticsPath(path) && c.Method() == fiber.MethodGet {
			logger.WithFields(fields).Debug("request_complete")
			return nil
		}
		logger.WithFields(fields).Info("request_complete")
		return nil
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
