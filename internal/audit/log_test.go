package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"fieldadmin.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.InitLogger("info", &buf)
	defer obs.InitLogger("info", os.Stdout)

	ctx := context.Background()
	ctx = obs.ContextWithRequestID(ctx, "req-123")
	ctx = obs.ContextWithUserID(ctx, 42)

	if err := LogEvent(ctx, EventUserCreate, map[string]any{"target_id": 7}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventUserCreate {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != float64(42) {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if entry["target_id"] != float64(7) {
		t.Fatalf("unexpected field: %v", entry["target_id"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
