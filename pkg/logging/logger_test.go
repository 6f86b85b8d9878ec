package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("unexpected levels %s, %s", entries[0].Level, entries[1].Level)
	}
}

func TestJSONLogger_ComponentPromoted(t *testing.T) {
	var buf bytes.Buffer
	logger := ForComponent(NewJSONLogger(&buf, DebugLevel), "live_cache")

	logger.Info("tile downloaded", Tile(15, 100, 200), Bytes(2048))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Component != "live_cache" {
		t.Errorf("component = %q, want live_cache", e.Component)
	}
	if e.Fields["tile"] != "15-100-200" {
		t.Errorf("tile field = %v", e.Fields["tile"])
	}
	if _, ok := e.Fields["component"]; ok {
		t.Error("component should not be repeated inside fields")
	}
}

func TestJSONLogger_ChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	root := NewJSONLogger(&buf, InfoLevel)
	child := root.With(TripID("trip-1"))

	root.SetLevel(ErrorLevel)
	child.Warn("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("expected child to inherit level change, got %q", buf.String())
	}

	child.Error("visible", Error(errors.New("boom")))
	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Fields["trip_id"] != "trip-1" || entries[0].Fields["error"] != "boom" {
		t.Errorf("unexpected fields %+v", entries[0].Fields)
	}
}

func TestJSONLogger_NoFieldsOmitted(t *testing.T) {
	var buf bytes.Buffer
	NewJSONLogger(&buf, InfoLevel).Info("bare")
	if strings.Contains(buf.String(), "fields") {
		t.Errorf("expected fields to be omitted, got %s", buf.String())
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	op := StartTimer(logger, "prefetch", Zoom(15))
	time.Sleep(time.Millisecond)
	op.EndError(errors.New("cancelled"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != "WARN" {
		t.Errorf("level = %s, want WARN", entries[0].Level)
	}
	if _, ok := entries[0].Fields["latency"]; !ok {
		t.Error("expected latency field")
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("nothing")
	if l.With(Count(1)) == nil {
		t.Error("With should return a logger")
	}
}

func BenchmarkJSONLogger_Info(b *testing.B) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("tile", Tile(15, i, i), Bytes(int64(i)))
	}
}
