package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"gatekey.org/internal/identity"
	"gatekey.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithSnapshot(ctx, identity.AuthorizationSnapshot{
		PlatformID: "plat-1",
		ProfileID:  "prof-42",
	})

	if err := LogEvent(ctx, "identity.login", "prof-42", map[string]any{"client_ip": "10.0.0.1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "identity.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["subject"] != "prof-42" {
		t.Fatalf("unexpected subject: %v", entry["subject"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "prof-42" {
		t.Fatalf("unexpected actor id: %v", entry["actor_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["client_ip"] != "10.0.0.1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", "", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestRecorderDoesNotPanicWithoutContext(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	NewRecorder().Record(context.Background(), "identity.logout", "", nil)
	if buf.Len() == 0 {
		t.Fatal("expected log output")
	}
}
