package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFieldsAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "relay"))
	ctx, id := EnsureRequestID(context.Background())

	log.Warn(ctx, "push failed", Int("failed", 2), Err(errors.New("queue full")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"msg":        "push failed",
		"level":      "WARN",
		"component":  "relay",
		"request_id": id,
		"failed":     float64(2),
		"error":      "queue full",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestEnsureRequestIDKeepsExisting(t *testing.T) {
	ctx, first := EnsureRequestID(context.Background())
	_, second := EnsureRequestID(ctx)
	if first == "" || first != second {
		t.Fatalf("ids = %q, %q", first, second)
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatalf("bare context has a request id")
	}
}

func TestNoopDiscards(t *testing.T) {
	log := Noop().With(String("k", "v"))
	log.Error(context.Background(), "nothing")
}
