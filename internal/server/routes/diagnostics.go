package routes

import (
	"net/http"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/origin"
	"github.com/imgcache/imgcache/internal/version"
)

// RegisterStatusRoutes 暴露 /-/status 诊断接口，输出缓存占用、进行中的下载与 Origin 绑定。
func RegisterStatusRoutes(app *fiber.App, manager *cache.Manager, registry *origin.Registry) {
	if app == nil || manager == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		stats, err := manager.Stats(c.Context())
		payload := statusPayload{
			Version: version.Full(),
			Cache:   stats,
			Origins: encodeOrigins(registry.List()),
		}
		if err != nil {
			payload.UsageError = err.Error()
		}
		return c.JSON(payload)
	})
}

// RegisterMetricsRoute 将 Prometheus handler 挂载到 /-/metrics。
func RegisterMetricsRoute(app *fiber.App, handler http.Handler) {
	if app == nil || handler == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(handler))
}

type statusPayload struct {
	Version    string          `json:"version"`
	Cache      cache.Stats     `json:"cache"`
	UsageError string          `json:"usage_error,omitempty"`
	Origins    []originPayload `json:"origins"`
}

type originPayload struct {
	Name       string   `json:"name"`
	Host       string   `json:"host"`
	CacheGroup string   `json:"cache_group,omitempty"`
	QueryMode  string   `json:"query_mode"`
	QueryKeys  []string `json:"query_keys,omitempty"`
	AuthMode   string   `json:"auth_mode"`
	Proxied    bool     `json:"proxied"`
}

func encodeOrigins(routes []origin.Route) []originPayload {
	result := make([]originPayload, 0, len(routes))
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.DisplayName() < routes[j].Config.DisplayName()
	})
	for _, route := range routes {
		result = append(result, originPayload{
			Name:       route.Config.DisplayName(),
			Host:       route.Config.Host,
			CacheGroup: route.Options.CacheGroup,
			QueryMode:  queryMode(route.Options.Query),
			QueryKeys:  append([]string(nil), route.Options.Query.Keys...),
			AuthMode:   route.Config.AuthMode(),
			Proxied:    route.ProxyURL != nil,
		})
	}
	return result
}

func queryMode(policy cache.QueryPolicy) string {
	switch {
	case policy.All:
		return "all"
	case policy.Selective:
		return "keys"
	default:
		return "ignore"
	}
}
