package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Protect 返回一个要求 permission 的处理器。认证关闭时直接放行。
func (s *Service) Protect(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s == nil || s.mode == ModeDisabled {
			next.ServeHTTP(w, r)
			return
		}
		// 认证请求。
		subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrSubjectRevoked) {
				status = http.StatusForbidden
			}
			s.deny(w, r, status, "access_denied", err, "")
			return
		}
		// 授权请求。
		if err := subject.Authorize(permission); err != nil {
			s.deny(w, r, http.StatusForbidden, "permission_denied", err, subject.Name)
			return
		}
		// 记录审计日志。
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
		s.audit.Info("api_request",
			"event", "api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"caller", subject.Name,
		)
	})
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, status int, event string, err error, caller string) {
	code := "UNAUTHENTICATED"
	if status == http.StatusForbidden {
		code = "PERMISSION_DENIED"
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="agentvault"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": http.StatusText(status), "retryable": false},
	})
	s.audit.Warn(event,
		"event", event,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"caller", caller,
	)
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
