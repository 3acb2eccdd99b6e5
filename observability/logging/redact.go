package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys that carry credentials. A key matches
// when it contains any marker, so hmac_secret and index_dsn are both caught.
var sensitiveMarkers = []string{
	"secret",
	"password",
	"passphrase",
	"private_key",
	"authorization",
	"bearer",
	"dsn",
	"otlp_headers",
}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// redactAttr masks attr when its key is sensitive. The JSON handler calls it
// for members of groups as well, so nested secrets are caught too.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.Resolve().String()))
}
