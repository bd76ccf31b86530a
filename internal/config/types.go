package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Query 参与缓存键的模式。
const (
	QueryModeIgnore = "ignore"
	QueryModeAll    = "all"
	QueryModeKeys   = "keys"
)

// GlobalConfig 描述全局运行时行为，所有 Origin 共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	// LogFormat 为 json（默认）或 text，CLI 一次性命令通常使用 text。
	LogFormat string `mapstructure:"LogFormat"`
	// StoragePath 是缓存根目录，图片实际存放在 <StoragePath>/image-cache 下。
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// PrefetchConcurrency 为 0 时批量预取的 worker 数等于 URL 数量。
	// 上限按批次生效：HTTP 与 CLI 会按 Origin 拆分 URL，HTTP 接口中各批次并发执行，
	// 因此一次请求的总 worker 数最多为 批次数 × PrefetchConcurrency。
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
	QueryMode           string   `mapstructure:"QueryMode"`
	QueryParamKeys      []string `mapstructure:"QueryParamKeys"`
}

// OriginConfig 覆盖特定图片源（按 Host 匹配）的缓存分组、缓存键与请求头。
type OriginConfig struct {
	Name           string            `mapstructure:"Name"`
	Host           string            `mapstructure:"Host"`
	CacheGroup     string            `mapstructure:"CacheGroup"`
	QueryMode      string            `mapstructure:"QueryMode"`
	QueryParamKeys []string          `mapstructure:"QueryParamKeys"`
	Headers        map[string]string `mapstructure:"Headers"`
	Username       string            `mapstructure:"Username"`
	Password       string            `mapstructure:"Password"`
	Proxy          string            `mapstructure:"Proxy"`
	BearerSecret   string            `mapstructure:"BearerSecret"`
	BearerIssuer   string            `mapstructure:"BearerIssuer"`
	BearerAudience string            `mapstructure:"BearerAudience"`
	BearerTTL      Duration          `mapstructure:"BearerTTL"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// HasCredentials 表示当前 Origin 是否配置了完整的 Basic 凭证。
func (o OriginConfig) HasCredentials() bool {
	return o.Username != "" && o.Password != ""
}

// AuthMode 输出 `basic`、`bearer` 或 `anonymous`，供日志字段使用。
func (o OriginConfig) AuthMode() string {
	switch {
	case o.BearerSecret != "":
		return "bearer"
	case o.HasCredentials():
		return "basic"
	default:
		return "anonymous"
	}
}

// AuthModes 返回所有 Origin 的鉴权模式摘要，例如 cdn:bearer。
func AuthModes(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = fmt.Sprintf("%s:%s", origin.DisplayName(), origin.AuthMode())
	}
	return result
}

// DisplayName 未配置 Name 时回退为 Host。
func (o OriginConfig) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Host
}

// EffectiveQuery 返回 Origin 生效的 query 策略，未覆盖时回退至全局值。
func (c *Config) EffectiveQuery(o OriginConfig) (string, []string) {
	if o.QueryMode != "" {
		return o.QueryMode, o.QueryParamKeys
	}
	return c.Global.QueryMode, c.Global.QueryParamKeys
}
