package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	minJWTSecretBytes = 32
	defaultJWTTTL     = time.Hour
	jwtLeeway         = 30 * time.Second
)

// JWTConfig configures HS256 bearer tokens minted by a trusted front end.
type JWTConfig struct {
	Secret     string `json:"secret"`
	SecretEnv  string `json:"secret_env"`
	Issuer     string `json:"issuer"`
	Audience   string `json:"audience"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Claims carries the caller's permissions alongside the registered claims.
type Claims struct {
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func newJWTManager(cfg JWTConfig) (*jwtManager, error) {
	secret := cfg.Secret
	if cfg.SecretEnv != "" {
		if value := strings.TrimSpace(os.Getenv(cfg.SecretEnv)); value != "" {
			secret = value
		}
	}
	if len(secret) < minJWTSecretBytes {
		return nil, fmt.Errorf("jwt 模式需要至少 %d 字节的 secret", minJWTSecretBytes)
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	return &jwtManager{
		secret:   []byte(secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (m *jwtManager) issue(name string, permissions []string) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	claims := Claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (m *jwtManager) verify(token string) (*Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	subject := &Subject{Name: claims.Subject, Permissions: claims.Permissions}
	subject.normalise()
	return subject, nil
}
