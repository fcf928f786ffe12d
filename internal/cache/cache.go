// Package cache provides content-addressed response caching for chat
// completions.
//
// Two backends are available:
//   - FileStore  — entries under <cache_dir>/<key prefix>/<key>.json,
//     the default for single-instance deployments.
//   - RedisStore — shared backend for multi-replica setups.
//
// Both implement the Store interface, enforce the TTL at read time against
// the entry's stored timestamp, and degrade gracefully: Get returns
// (nil, false) on any error and Set never fails the request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

// Store is the response cache seen by the request pipeline.
type Store interface {
	// Get returns the cached response body for key. Returns (nil, false)
	// on a miss, an expired entry, or any backend error.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a response body under key. Failures are absorbed; Set
	// never fails the request that produced the response.
	Set(ctx context.Context, key, model string, responseBody []byte) error
}

// Factory builds a Store from a snapshot of the cache settings. The request
// pipeline constructs a store per request, so admin-driven config changes
// (enablement, TTL, directory) take effect immediately.
type Factory func(cfg policy.CacheConfig) Store

// Entry is the stored form of a cached response. CachedAt is unix seconds.
type Entry struct {
	CachedAt     int64  `json:"cached_at"`
	Model        string `json:"model"`
	ResponseBody []byte `json:"response_body"`
}

// recognizedExtras are the request fields, beyond model and messages, that
// participate in the cache key. Kept sorted; iteration order is the hash
// input order.
var recognizedExtras = []string{
	"max_completion_tokens",
	"max_tokens",
	"response_format",
	"seed",
	"stop",
	"temperature",
	"tool_choice",
	"tools",
	"top_p",
}

// Key derives the content address for a request: SHA-256 over the model,
// the canonical JSON of the messages array, and each recognized extra
// present (key bytes then canonical value), in sorted key order. Extras
// outside the recognized set do not affect the key.
func Key(model string, messages []json.RawMessage, extras map[string]json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(model))

	arr := make([]any, len(messages))
	for i, m := range messages {
		var v any
		if err := json.Unmarshal(m, &v); err == nil {
			arr[i] = v
		}
	}
	if data, err := json.Marshal(arr); err == nil {
		h.Write(data)
	}

	for _, k := range recognizedExtras {
		if v, ok := extras[k]; ok {
			h.Write([]byte(k))
			h.Write(canonicalJSON(v))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON re-serializes raw so that equivalent documents hash equally
// (sorted object keys, normalized numbers and whitespace). Unparseable
// input hashes as-is.
func canonicalJSON(raw json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
