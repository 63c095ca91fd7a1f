package logger

import (
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveKeyParts are matched against lower-cased attribute keys. public_key
// and master_key_id are deliberately not covered: both are safe to log.
var sensitiveKeyParts = []string{
	"private_key",
	"privatekey",
	"secret",
	"seed",
	"password",
	"passphrase",
	"token",
	"authorization",
	"plaintext",
}

var sensitiveKeys = map[string]struct{}{
	"aek":        {},
	"master_key": {},
	"masterkey":  {},
	"key_bytes":  {},
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, redactedValue)
	}
	return attr
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[lower]; ok {
		return true
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
