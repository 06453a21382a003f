// Package textutil has small string helpers shared by the payment and
// handler layers.
package textutil

import "strings"

// Stripe caps metadata at 40-rune keys and 500-rune values; longer
// entries are rejected by the API rather than truncated server side.
const (
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

// NormalizeStringMap prepares a caller-supplied metadata map for the
// payment gateway: keys and values are trimmed, blank keys dropped, and
// oversized entries clipped to the gateway limits. Returns nil when
// nothing survives.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		k = truncate(strings.TrimSpace(k), maxMetadataKeyLen)
		if k == "" {
			continue
		}
		out[k] = truncate(strings.TrimSpace(v), maxMetadataValueLen)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
