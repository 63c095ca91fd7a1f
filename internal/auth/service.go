package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AgentVault/pkg/logger"
)

// Service 使用静态 Bearer Token 或 HS256 JWT 认证调用方。
type Service struct {
	mode    Mode
	entries []tokenEntry
	jwt     *jwtManager
	audit   *slog.Logger
}

type tokenEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// NewService 根据配置构建认证服务。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return s, nil
	case ModeJWT:
		manager, err := newJWTManager(cfg.JWT)
		if err != nil {
			return nil, err
		}
		s.jwt = manager
		return s, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}

	if len(cfg.Tokens) == 0 {
		return nil, errors.New("token 模式至少需要配置一个 token")
	}
	seen := make(map[[sha256.Size]byte]string, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		token := strings.TrimSpace(tc.Token)
		if tc.Name == "" || token == "" {
			return nil, errors.New("token 配置缺少 name 或 token")
		}
		digest := sha256.Sum256([]byte(token))
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("token %s 与 %s 重复", tc.Name, other)
		}
		seen[digest] = tc.Name
		subject := &Subject{Name: tc.Name, Permissions: append([]string(nil), tc.Permissions...), Disabled: tc.Disabled}
		subject.normalise()
		s.entries = append(s.entries, tokenEntry{digest: digest, subject: subject})
	}
	return s, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 在 jwt 模式下为 name 签发带权限的访问令牌。
func (s *Service) IssueToken(name string, permissions []string) (string, time.Time, error) {
	if s == nil || s.jwt == nil {
		return "", time.Time{}, errors.New("token issuance requires jwt mode")
	}
	if strings.TrimSpace(name) == "" {
		return "", time.Time{}, errors.New("subject name is required")
	}
	return s.jwt.issue(name, permissions)
}

// AuthenticateRequest 解析 Authorization 头并返回对应主体。
// 静态 token 的比较在摘要上以常量时间进行，且总会遍历全部 token。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, ErrMissingToken
	}
	if s.jwt != nil {
		return s.jwt.verify(token)
	}
	digest := sha256.Sum256([]byte(token))

	var match *Subject
	for _, entry := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			match = entry.subject
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	if match.Disabled {
		return nil, ErrSubjectRevoked
	}
	return match, nil
}
