package analytics

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/nulpointcorp/llm-router/internal/state"
)

func newSlogSink(t *testing.T) (*Sink, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := New(context.Background(), "", logger)
	if err != nil {
		t.Fatal(err)
	}
	return s, &buf
}

func TestSink_RequiresContext(t *testing.T) {
	if _, err := New(nil, "", nil); err == nil { //nolint:staticcheck
		t.Fatal("expected error for nil context")
	}
}

func TestSink_SlogOnlyEmitsOnClose(t *testing.T) {
	s, buf := newSlogSink(t)

	provider := "Cheap"
	cost := 0.002
	full := state.NewRequestLog("test-mini")
	full.Status = state.StatusSuccess
	full.Provider = &provider
	full.EstimatedCost = &cost
	full.DurationMs = 42
	s.Record(full)

	// Entries with nil optionals must flush without issue.
	empty := state.NewRequestLog("test-large")
	empty.Status = state.StatusNoProvider
	s.Record(empty)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if got := strings.Count(out, "msg=request"); got != 2 {
		t.Fatalf("expected 2 emitted entries, got %d:\n%s", got, out)
	}
	for _, want := range []string{full.ID, "model=test-mini", "provider=Cheap", "estimated_cost=0.002", "model=test-large", "status=no_provider"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if s.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", s.Dropped())
	}
}

func TestSink_FlushesLargeBacklog(t *testing.T) {
	s, buf := newSlogSink(t)

	// More than one batch; everything must still be drained by Close.
	for i := 0; i < 2*batchSize+5; i++ {
		s.Record(state.NewRequestLog("m"))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if got := strings.Count(buf.String(), "msg=request"); got != 2*batchSize+5 {
		t.Errorf("expected %d entries, got %d", 2*batchSize+5, got)
	}
}

func TestSink_NeverBlocksWhenFull(t *testing.T) {
	s, _ := newSlogSink(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// With the consumer gone, the buffer fills and the overflow is counted
	// instead of blocking the caller.
	for i := 0; i < channelBuffer+10; i++ {
		s.Record(state.NewRequestLog("m"))
	}
	if s.Dropped() != 10 {
		t.Errorf("expected 10 dropped entries, got %d", s.Dropped())
	}
}

func TestSink_CloseIdempotent(t *testing.T) {
	s, _ := newSlogSink(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
