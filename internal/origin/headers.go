package origin

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/imgcache/imgcache/internal/cache"
)

// headerSet 合并静态头、Basic 凭证与 Bearer token，实现 cache.HeadersResolver。
type headerSet struct {
	static map[string]string
	basic  string
	bearer *BearerSigner
}

var _ cache.HeadersResolver = (*headerSet)(nil)

func (h *headerSet) ResolveHeaders(ctx context.Context) (map[string]string, error) {
	headers := make(map[string]string, len(h.static)+1)
	for key, value := range h.static {
		headers[key] = value
	}
	if h.basic != "" {
		headers["Authorization"] = h.basic
	}
	if h.bearer != nil {
		token, err := h.bearer.Token(ctx)
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + token
	}
	return headers, nil
}

func (h *headerSet) empty() bool {
	return len(h.static) == 0 && h.basic == "" && h.bearer == nil
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}

// BearerConfig configures a BearerSigner.
type BearerConfig struct {
	// Secret is the HS256 signing key. Required.
	Secret string
	// Issuer/Audience/Subject populate the registered claims when non-empty.
	Issuer   string
	Audience string
	Subject  string
	// TTL is the token lifetime. Default: 5 minutes.
	TTL time.Duration
}

// BearerSigner 签发短期 HS256 token 并在过期前复用；并发刷新通过 singleflight 合并。
type BearerSigner struct {
	cfg BearerConfig
	now func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	sfGroup singleflight.Group
}

// NewBearerSigner 校验配置并返回 signer。
func NewBearerSigner(cfg BearerConfig) (*BearerSigner, error) {
	if cfg.Secret == "" {
		return nil, errors.New("bearer secret required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &BearerSigner{cfg: cfg, now: time.Now}, nil
}

// Token 返回仍在有效期内的 token；剩余寿命不足 refreshSkew 时重新签发。
func (b *BearerSigner) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.RLock()
	token, expiresAt := b.token, b.expiresAt
	b.mu.RUnlock()
	if token != "" && b.now().Before(expiresAt.Add(-b.refreshSkew())) {
		return token, nil
	}

	v, err, _ := b.sfGroup.Do("mint", func() (any, error) {
		return b.mint()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *BearerSigner) refreshSkew() time.Duration {
	skew := b.cfg.TTL / 5
	if skew > 30*time.Second {
		skew = 30 * time.Second
	}
	return skew
}

func (b *BearerSigner) mint() (string, error) {
	now := b.now()
	expiresAt := now.Add(b.cfg.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    b.cfg.Issuer,
		Subject:   b.cfg.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if b.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{b.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.cfg.Secret))
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.token = signed
	b.expiresAt = expiresAt
	b.mu.Unlock()
	return signed, nil
}
