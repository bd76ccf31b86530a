package cache

import "context"

// DefaultExtension 是 URL 末段没有扩展名时使用的占位扩展名，不做内容嗅探，
// 以保证缓存键只取决于 URL 本身。
const DefaultExtension = "jpg"

// SubDir 是缓存根目录下固定的子目录名。
const SubDir = "image-cache"

// QueryPolicy 决定 query 参数是否参与缓存键计算。零值表示忽略 query。
type QueryPolicy struct {
	// All 为 true 时使用全部 query 参数（按键排序，仅取值）。
	All bool
	// Keys 仅在 Selective 为 true 时生效，只使用列出的参数。
	Keys      []string
	Selective bool
}

// IgnoreQuery 返回默认策略：query 不影响缓存键。
func IgnoreQuery() QueryPolicy {
	return QueryPolicy{}
}

// AllQueryParams 让所有 query 参数值参与缓存键。
func AllQueryParams() QueryPolicy {
	return QueryPolicy{All: true}
}

// QueryParams 只让指定的参数参与缓存键；空列表等价于 IgnoreQuery。
func QueryParams(keys ...string) QueryPolicy {
	return QueryPolicy{Keys: append([]string(nil), keys...), Selective: true}
}

// Enabled 报告该策略是否会产生 query 贡献。
func (p QueryPolicy) Enabled() bool {
	return p.All || p.Selective
}

// Options 是单次调用的缓存配置，零值即默认：按 URL host 分组、忽略 query、无额外请求头。
type Options struct {
	// CacheGroup 覆盖默认的 host 分组目录。
	CacheGroup string
	Query      QueryPolicy
	// Headers 在下载前解析请求头，可为 nil。
	Headers HeadersResolver
}

// HeadersResolver 在下载前异步地产出请求头（例如读取或签发 token）。
type HeadersResolver interface {
	ResolveHeaders(ctx context.Context) (map[string]string, error)
}

// HeadersFunc 将函数适配为 HeadersResolver。
type HeadersFunc func(ctx context.Context) (map[string]string, error)

// ResolveHeaders makes HeadersFunc satisfy HeadersResolver.
func (f HeadersFunc) ResolveHeaders(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

func resolveHeaders(ctx context.Context, resolver HeadersResolver) (map[string]string, error) {
	if resolver == nil {
		return map[string]string{}, nil
	}
	headers, err := resolver.ResolveHeaders(ctx)
	if err != nil {
		return nil, err
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return headers, nil
}
