package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	switch g.LogFormat {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json/text")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.PrefetchConcurrency < 0 {
		return newFieldError("Global.PrefetchConcurrency", "不能为负数")
	}
	if err := validateQuery(g.QueryMode, g.QueryParamKeys, false); err != nil {
		return newFieldError("Global.QueryMode", err.Error())
	}

	seenHosts := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		name := origin.DisplayName()

		if err := validateHost(origin.Host); err != nil {
			return fmt.Errorf("%s: %w", originField(name, "Host"), err)
		}
		if _, exists := seenHosts[origin.Host]; exists {
			return newFieldError(originField(name, "Host"), "重复")
		}
		seenHosts[origin.Host] = struct{}{}

		if err := validateQuery(origin.QueryMode, origin.QueryParamKeys, true); err != nil {
			return newFieldError(originField(name, "QueryMode"), err.Error())
		}
		if err := validateCacheGroup(origin.CacheGroup); err != nil {
			return newFieldError(originField(name, "CacheGroup"), err.Error())
		}
		if (origin.Username == "") != (origin.Password == "") {
			return newFieldError(originField(name, "Username/Password"), "必须同时提供或同时留空")
		}
		if origin.BearerSecret != "" && origin.HasCredentials() {
			return newFieldError(originField(name, "BearerSecret"), "不能与 Username/Password 同时使用")
		}
		if origin.BearerTTL.DurationValue() < 0 {
			return newFieldError(originField(name, "BearerTTL"), "不能为负数")
		}
		if origin.Proxy != "" {
			if err := validateProxy(origin.Proxy); err != nil {
				return fmt.Errorf("%s: %w", originField(name, "Proxy"), err)
			}
		}
	}

	return nil
}

func validateQuery(mode string, keys []string, allowInherit bool) error {
	switch mode {
	case "":
		if !allowInherit {
			return errors.New("不能为空")
		}
		if len(keys) > 0 {
			return errors.New("QueryParamKeys 需要 QueryMode = \"keys\"")
		}
		return nil
	case QueryModeIgnore, QueryModeAll:
		return nil
	case QueryModeKeys:
		if len(keys) == 0 {
			return errors.New("keys 模式需要提供 QueryParamKeys")
		}
		return nil
	default:
		return errors.New("仅支持 ignore/all/keys")
	}
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("Host 不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("Host 不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("Host 不允许包含空格")
	}
	return nil
}

func validateCacheGroup(group string) error {
	if group == "" {
		return nil
	}
	for _, segment := range strings.Split(group, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("非法分组: %s", group)
		}
	}
	return nil
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("仅支持 http/https/socks5 代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}
