package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSubjectRevoked   = errors.New("subject is disabled")
)

// Permissions understood by the API.
const (
	PermissionAgentsRead     = "agents:read"
	PermissionAgentsWrite    = "agents:write"
	PermissionWalletsIssue   = "wallets:issue"
	PermissionTransfersWrite = "transfers:write"
	// PermissionAll grants every permission.
	PermissionAll = "*"
)

// Subject is the authenticated caller attached to the request context.
type Subject struct {
	Name        string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.permissionsSet == nil {
		s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
		for _, perm := range s.Permissions {
			s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
		}
	}
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Mode enumerates the supported authentication modes.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
)

// Config configures the authentication service.
type Config struct {
	Mode   Mode          `json:"mode"`
	Tokens []TokenConfig `json:"tokens"`
	JWT    JWTConfig     `json:"jwt"`
}

// TokenConfig binds a static bearer token to a named caller.
type TokenConfig struct {
	Name        string   `json:"name"`
	Token       string   `json:"token"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}
