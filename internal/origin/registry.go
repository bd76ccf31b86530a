package origin

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/imgcache/imgcache/internal/cache"
	"github.com/imgcache/imgcache/internal/config"
)

// Route 将 Origin 配置与派生出的缓存选项聚合在一起，避免每次请求重复解析配置。
type Route struct {
	// Config 是用户在 config.toml 中声明的 Origin 字段副本。
	Config config.OriginConfig
	// Options 是该 Origin 对应的缓存选项（分组、query 策略、请求头）。
	Options  cache.Options
	ProxyURL *url.URL
}

// Registry 提供 Host 到 Route 的查询能力，未配置的 Host 使用全局默认选项。
type Registry struct {
	routes   map[string]*Route
	ordered  []*Route
	defaults cache.Options
}

// NewRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &Registry{
		routes:   make(map[string]*Route, len(cfg.Origins)),
		defaults: cache.Options{Query: queryPolicy(cfg.Global.QueryMode, cfg.Global.QueryParamKeys)},
	}

	for _, origin := range cfg.Origins {
		host := normalizeHost(origin.Host)
		if host == "" {
			return nil, fmt.Errorf("invalid host for origin %s", origin.DisplayName())
		}
		if _, exists := registry.routes[host]; exists {
			return nil, fmt.Errorf("duplicate host mapping detected for %s", host)
		}

		route, err := buildRoute(cfg, origin)
		if err != nil {
			return nil, err
		}
		registry.routes[host] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

func buildRoute(cfg *config.Config, origin config.OriginConfig) (*Route, error) {
	mode, keys := cfg.EffectiveQuery(origin)
	opts := cache.Options{
		CacheGroup: origin.CacheGroup,
		Query:      queryPolicy(mode, keys),
	}

	headers := &headerSet{
		static: origin.Headers,
		basic:  buildCredentialHeader(origin.Username, origin.Password),
	}
	if origin.BearerSecret != "" {
		signer, err := NewBearerSigner(BearerConfig{
			Secret:   origin.BearerSecret,
			Issuer:   origin.BearerIssuer,
			Audience: origin.BearerAudience,
			Subject:  origin.DisplayName(),
			TTL:      origin.BearerTTL.DurationValue(),
		})
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", origin.DisplayName(), err)
		}
		headers.bearer = signer
	}
	if !headers.empty() {
		opts.Headers = headers
	}

	var proxyURL *url.URL
	if origin.Proxy != "" {
		parsed, err := url.Parse(origin.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for origin %s: %w", origin.DisplayName(), err)
		}
		proxyURL = parsed
	}

	return &Route{Config: origin, Options: opts, ProxyURL: proxyURL}, nil
}

// Lookup 根据 Host 查找 Route。
func (r *Registry) Lookup(host string) (*Route, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[normalizeHost(host)]
	return route, ok
}

// OptionsFor 返回 URL 所属 Origin 的缓存选项；无法解析或未配置时返回全局默认值。
func (r *Registry) OptionsFor(rawURL string) cache.Options {
	return r.optionsOf(r.routeFor(rawURL))
}

// Batch 是共享同一组缓存选项的 URL 集合。
type Batch struct {
	Options cache.Options
	URLs    []string
}

// Partition 按 Origin 将 URL 分组，批次与组内 URL 均保持首次出现的顺序，
// 供批量预取按 Origin 分别调度。
func (r *Registry) Partition(urls []string) []Batch {
	return r.split(urls, true)
}

// Runs 只合并相邻且属于同一 Origin 的 URL，拼接各批次即得到原始输入顺序，
// 适用于必须顺序执行的批量删除。
func (r *Registry) Runs(urls []string) []Batch {
	return r.split(urls, false)
}

func (r *Registry) split(urls []string, merge bool) []Batch {
	var (
		batches []Batch
		index   = make(map[*Route]int)
	)
	for _, raw := range urls {
		route := r.routeFor(raw)
		if merge {
			if i, ok := index[route]; ok {
				batches[i].URLs = append(batches[i].URLs, raw)
				continue
			}
		} else if n := len(batches); n > 0 && r.routeFor(batches[n-1].URLs[0]) == route {
			batches[n-1].URLs = append(batches[n-1].URLs, raw)
			continue
		}
		index[route] = len(batches)
		batches = append(batches, Batch{Options: r.optionsOf(route), URLs: []string{raw}})
	}
	return batches
}

// routeFor 返回 URL 对应的 Route，未配置或无法解析时返回 nil（全局默认）。
func (r *Registry) routeFor(rawURL string) *Route {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	route, _ := r.Lookup(u.Host)
	return route
}

func (r *Registry) optionsOf(route *Route) cache.Options {
	if route != nil {
		return route.Options
	}
	if r == nil {
		return cache.Options{}
	}
	return r.defaults
}

// List 返回按配置顺序排列的 Route 副本，用于 /-/status 输出。
func (r *Registry) List() []Route {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]Route, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// Proxies 返回配置了转发代理的 host 映射，交给 fetch.WithProxies。
func (r *Registry) Proxies() map[string]*url.URL {
	proxies := make(map[string]*url.URL)
	if r == nil {
		return proxies
	}
	for host, route := range r.routes {
		if route.ProxyURL != nil {
			proxies[host] = route.ProxyURL
		}
	}
	return proxies
}

func queryPolicy(mode string, keys []string) cache.QueryPolicy {
	switch mode {
	case config.QueryModeAll:
		return cache.AllQueryParams()
	case config.QueryModeKeys:
		return cache.QueryParams(keys...)
	default:
		return cache.IgnoreQuery()
	}
}

// normalizeHost 保留端口（缓存分组同样包含端口），只做大小写与末尾点的规范化。
func normalizeHost(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if host, port, err := net.SplitHostPort(raw); err == nil {
		return strings.TrimSuffix(host, ".") + ":" + port
	}
	return strings.TrimSuffix(raw, ".")
}
