package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/stream"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = auth.ContextWithRequestID(ctx, "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{Identity: &auth.Identity{ID: "id-42"}})

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "id-42" {
		t.Fatalf("unexpected actor id: %v", entry["actor_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRedactsSecrets(t *testing.T) {
	buf := captureLog(t)

	err := LogEvent(context.Background(), "auth.credential.rejected", map[string]any{
		"identity": "alice",
		"password": "S3cr3t!",
	})
	if err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("S3cr3t!")) {
		t.Fatal("plaintext secret leaked into audit log")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	fields := entry["fields"].(map[string]any)
	if fields["password"] != obs.Redaction {
		t.Fatalf("password = %v, want %q", fields["password"], obs.Redaction)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	captureLog(t)
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event name")
	}
}

func TestRecorderPersistsAndPublishes(t *testing.T) {
	captureLog(t)

	store := auth.NewMemStore()
	events := stream.New()
	rec := NewRecorder(store, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := events.Subscribe(ctx)

	ctx = auth.ContextWithRequestID(ctx, "req-9")
	err := rec.Record(ctx, "iam.role.assigned", map[string]any{
		"resource":    "role",
		"resource_id": "role-1",
		"identity_id": "id-1",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Action != "iam.role.assigned" {
		t.Fatalf("action = %q", entries[0].Action)
	}
	if entries[0].Resource != "role" || entries[0].ResourceID != "role-1" {
		t.Fatalf("resource = %q/%q", entries[0].Resource, entries[0].ResourceID)
	}
	if entries[0].RequestID != "req-9" {
		t.Fatalf("request id = %q", entries[0].RequestID)
	}

	select {
	case evt := <-sub:
		if evt.Event != "iam.role.assigned" {
			t.Fatalf("stream event = %q", evt.Event)
		}
		if evt.RequestID != "req-9" {
			t.Fatalf("stream request id = %q", evt.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published to stream")
	}
}
