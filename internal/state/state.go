// Package state holds the gateway's mutable runtime state: the live routing
// config (persisted to disk as JSON), a bounded in-memory request log, and
// the session pin table.
//
// The three areas are guarded by independent locks so config reads never
// contend with log writes. No lock is ever held across an upstream call.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

// Request outcome values recorded in RequestLog.Status.
const (
	StatusPending    = "pending"
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusNoProvider = "no_provider"
)

// Cache disposition values recorded in RequestLog.CacheStatus.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheSkip = "skip"
)

// maxLogs bounds the in-memory request log; the oldest entries are evicted
// first.
const maxLogs = 1000

type (
	// RequestLog records one chat completion request end to end. Optional
	// fields stay null until the stage that owns them runs.
	RequestLog struct {
		ID              string    `json:"id"`
		Timestamp       time.Time `json:"timestamp"`
		Model           string    `json:"model"`
		EffectiveModel  *string   `json:"effective_model"`
		Provider        *string   `json:"provider"`
		Status          string    `json:"status"`
		StatusCode      *int      `json:"status_code"`
		DurationMs      uint64    `json:"duration_ms"`
		InputTokens     *uint64   `json:"input_tokens"`
		OutputTokens    *uint64   `json:"output_tokens"`
		EstimatedCost   *float64  `json:"estimated_cost"`
		ComplexityTier  *string   `json:"complexity_tier"`
		ComplexityScore *float64  `json:"complexity_score"`
		ErrorMessage    *string   `json:"error_message"`
		ProvidersTried  []string  `json:"providers_tried"`
		CacheStatus     *string   `json:"cache_status"`
		AgenticMode     *bool     `json:"agentic_mode"`
		SessionID       *string   `json:"session_id"`
		SessionPinned   *bool     `json:"session_pinned"`
	}

	// SessionEntry pins a session to the provider and model that last
	// served it.
	SessionEntry struct {
		ProviderID string    `json:"provider_id"`
		ModelID    string    `json:"model_id"`
		LastActive time.Time `json:"last_active"`
	}
)

// NewRequestLog starts a log entry for a request asking for model.
func NewRequestLog(model string) RequestLog {
	return RequestLog{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Model:          model,
		Status:         StatusPending,
		ProvidersTried: []string{},
	}
}

// Store owns the runtime state. Safe for concurrent use.
type Store struct {
	log *slog.Logger

	configMu   sync.RWMutex
	config     policy.Config
	configPath string

	logsMu sync.RWMutex
	logs   []RequestLog

	sessionsMu sync.RWMutex
	sessions   map[string]SessionEntry

	done      chan struct{}
	closeOnce sync.Once
}

// New loads the config from path, or falls back to policy.Default when the
// file is missing or does not parse. Boot never fails on config problems; a
// parse failure is logged and the defaults are served.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := policy.Default()
	if data, err := os.ReadFile(path); err == nil {
		var parsed policy.Config
		if uerr := json.Unmarshal(data, &parsed); uerr == nil {
			cfg = parsed
		} else {
			logger.Warn("config file unreadable, serving defaults",
				slog.String("path", path),
				slog.String("error", uerr.Error()))
		}
	} else if !os.IsNotExist(err) {
		logger.Warn("config file unreadable, serving defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	return &Store{
		log:        logger,
		config:     cfg,
		configPath: path,
		sessions:   make(map[string]SessionEntry),
		done:       make(chan struct{}),
	}
}

// Config returns the current config snapshot. Snapshots are shared and must
// be treated as read-only.
func (s *Store) Config() policy.Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// UpdateConfig replaces the config wholesale and persists it to disk.
func (s *Store) UpdateConfig(cfg policy.Config) error {
	s.configMu.Lock()
	s.config = cfg
	s.configMu.Unlock()
	return s.Save()
}

// Save writes the current config to the store's path as indented JSON.
func (s *Store) Save() error {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// AddLog appends a finished request log, evicting the oldest entries beyond
// the ring capacity.
func (s *Store) AddLog(entry RequestLog) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	s.logs = append(s.logs, entry)
	if over := len(s.logs) - maxLogs; over > 0 {
		s.logs = append(s.logs[:0], s.logs[over:]...)
	}
}

// Logs returns a copy of the request log, oldest first.
func (s *Store) Logs() []RequestLog {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()

	out := make([]RequestLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Session returns the pin for id when one exists and is no older than
// ttlSeconds. Expired pins are reported as absent but not removed; the
// sweeper reclaims them.
func (s *Store) Session(id string, ttlSeconds uint64) (SessionEntry, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return SessionEntry{}, false
	}
	if uint64(time.Since(entry.LastActive)/time.Second) > ttlSeconds {
		return SessionEntry{}, false
	}
	return entry, true
}

// SetSession records or overwrites a session pin with a fresh timestamp.
func (s *Store) SetSession(id, providerID, modelID string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	s.sessions[id] = SessionEntry{
		ProviderID: providerID,
		ModelID:    modelID,
		LastActive: time.Now().UTC(),
	}
}

// TouchSession refreshes the pin's timestamp if it exists.
func (s *Store) TouchSession(id string) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if entry, ok := s.sessions[id]; ok {
		entry.LastActive = time.Now().UTC()
		s.sessions[id] = entry
	}
}

// CleanupSessions removes pins older than ttlSeconds and returns how many
// were removed.
func (s *Store) CleanupSessions(ttlSeconds uint64) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	removed := 0
	for id, entry := range s.sessions {
		if uint64(time.Since(entry.LastActive)/time.Second) > ttlSeconds {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// SessionCount returns the number of pins currently held, expired or not.
func (s *Store) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// StartSweeper launches the periodic session cleanup. It stops when ctx is
// cancelled or Close is called. A non-positive interval disables sweeping.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go s.sweep(ctx, interval)
}

func (s *Store) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sess := s.Config().SessionSettings()
			if !sess.Enabled {
				continue
			}
			if removed := s.CleanupSessions(sess.TTLSeconds); removed > 0 {
				s.log.Debug("expired sessions removed", slog.Int("count", removed))
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Close stops the sweeper goroutine.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
