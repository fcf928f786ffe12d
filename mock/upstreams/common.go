package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// replyWords is the pool of words mock replies are assembled from.
var replyWords = []string{
	"The", "router", "forwarded", "this", "request", "to", "a", "mock",
	"upstream", "which", "generated", "a", "plausible", "reply", "for",
	"development", "and", "load", "testing", "without", "real", "provider",
	"credentials", "or", "cost",
}

// fakeReply returns a reply of roughly n words.
func fakeReply(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = replyWords[rand.IntN(len(replyWords))]
	}
	return strings.Join(words, " ") + "."
}

// estimateTokens mirrors the rough chars/4 heuristic the router itself uses,
// so mocked usage numbers vary with prompt size the way real ones would.
func estimateTokens(n int) int {
	if t := n / 4; t > 0 {
		return t
	}
	return 1
}

func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// shouldError reports whether this request should simulate an upstream
// failure, used to exercise the router's failover path.
func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the OpenAI-style error envelope.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Message: msg,
		Type:    typ,
		Code:    strings.ToLower(strings.ReplaceAll(typ, " ", "_")),
	}})
}
