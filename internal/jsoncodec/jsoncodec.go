// Package jsoncodec is the JSON codec used for envelopes, payloads and cache keys.
// It is configured to be byte-compatible with encoding/json (sorted map keys,
// HTML escaping) so that hashes of encoded values are stable across processes.
package jsoncodec

import (
	"bytes"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// IsNull reports whether raw is empty or the JSON literal null.
func IsNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
