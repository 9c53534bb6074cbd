package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder emitted in place of sensitive material.
const RedactedValue = "[REDACTED]"

// sensitiveKeys lists log keys whose values must never be emitted verbatim.
// The wallet mnemonic and anything derived from it belongs here; the faucet
// must hold key material only in memory.
var sensitiveKeys = map[string]struct{}{
	"mnemonic":     {},
	"seed":         {},
	"private_key":  {},
	"bearer_token": {},
	"api_key":      {},
	"password":     {},
}

// IsSensitive reports whether the key carries secret material.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// Secret returns a slog.Attr that always masks the value. Use it when a
// field is secret by construction regardless of its key name.
func Secret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Field masks the value when the key is sensitive and passes it through
// otherwise.
func Field(key, value string) slog.Attr {
	if IsSensitive(key) {
		return Secret(key, value)
	}
	return slog.String(key, value)
}
