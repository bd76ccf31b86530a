package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
)

// DeriveKey 把 URL 与 Options 映射为确定性的缓存文件名：
//
//	sha1(dirPath + fileName + ext + queryValues) + "." + ext
//
// 同一资源 + 同一 Options 永远得到同一个键；不做任何 I/O。
func DeriveKey(rawURL string, opts Options) (string, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", err
	}

	segments := strings.Split(u.EscapedPath(), "/")
	fileName := segments[len(segments)-1]
	dirPath := strings.Join(segments[:len(segments)-1], "/")

	ext := DefaultExtension
	if parts := strings.Split(fileName, "."); len(parts) > 1 {
		ext = parts[len(parts)-1]
	}

	material := dirPath + fileName + ext + queryContribution(u.Query(), opts.Query)
	sum := sha1.Sum([]byte(material))
	return hex.EncodeToString(sum[:]) + "." + ext, nil
}

// queryContribution 按键排序后只拼接参数值，多个值以逗号分隔；同名参数只取第一个。
func queryContribution(query url.Values, policy QueryPolicy) string {
	if !policy.Enabled() {
		return ""
	}

	keys := make([]string, 0, len(query))
	if policy.All {
		for key := range query {
			keys = append(keys, key)
		}
	} else {
		for _, key := range policy.Keys {
			if _, ok := query[key]; ok {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	keys = dedupSorted(keys)

	values := make([]string, 0, len(keys))
	for _, key := range keys {
		values = append(values, query.Get(key))
	}
	return strings.Join(values, ",")
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, key := range keys[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, invalidURL(rawURL, err)
	}
	return u, nil
}

// Resolver 将缓存键与根目录组合为绝对存储路径：<Root>/image-cache/<group>/<key>。
type Resolver struct {
	Root string
}

// BaseDir 返回整个缓存的根目录。
func (r Resolver) BaseDir() string {
	return filepath.Join(r.Root, SubDir)
}

// Resolve 计算 URL 的存储路径。分组优先使用 opts.CacheGroup，否则使用 URL host。
func (r Resolver) Resolve(rawURL string, opts Options) (string, error) {
	key, err := DeriveKey(rawURL, opts)
	if err != nil {
		return "", err
	}

	group := opts.CacheGroup
	if group == "" {
		u, err := parseURL(rawURL)
		if err != nil {
			return "", err
		}
		group = u.Host
	}
	if strings.TrimSpace(group) == "" {
		return "", invalidURL(rawURL, nil)
	}

	base := r.BaseDir()
	groupDir := filepath.Join(base, filepath.FromSlash(group))
	if !strings.HasPrefix(groupDir, base+string(filepath.Separator)) {
		return "", invalidURL(rawURL, nil)
	}
	return filepath.Join(groupDir, key), nil
}
