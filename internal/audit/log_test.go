package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"crmbase.org/internal/auth"
	"crmbase.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	claims := &auth.Claims{UserID: "user-42", TenantID: "tenant-7"}
	ctx = auth.ContextWithPrincipal(ctx, auth.NewPrincipal(&auth.User{ID: "user-42", TenantID: "tenant-7"}, claims))

	if err := LogEvent(ctx, "auth.login", map[string]any{"ip": "10.0.0.1"}); err != nil {
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
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if entry["tenant_id"] != "tenant-7" {
		t.Fatalf("unexpected tenant id: %v", entry["tenant_id"])
	}
	if entry["ip"] != "10.0.0.1" {
		t.Fatalf("field missing: %v", entry["ip"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
