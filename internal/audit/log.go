// Package audit produces the security audit trail: structured log lines,
// durable audit_log rows, and live events for stream subscribers. Sensitive
// field values are redacted before anything leaves the process.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/auth"
	"gatekit.org/internal/ids"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/stream"
)

// LogEvent writes an audit log entry enriched with request and principal
// context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := auth.RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok && principal.Identity != nil {
		entry["actor_id"] = principal.Identity.ID
	}
	entry["fields"] = obs.RedactFields(fields)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Recorder persists audit entries and publishes them to the live event
// stream, in addition to logging. Its Record method satisfies
// auth.AuditFunc.
type Recorder struct {
	store  auth.Store
	events *stream.Stream
}

// NewRecorder constructs a Recorder. Either argument may be nil, in which
// case that sink is skipped.
func NewRecorder(store auth.Store, events *stream.Stream) *Recorder {
	return &Recorder{store: store, events: events}
}

// Record logs the event and fans it out to the configured sinks. Sink
// failures are returned but never block the others.
func (r *Recorder) Record(ctx context.Context, event string, fields map[string]any) error {
	err := LogEvent(ctx, event, fields)

	redacted := obs.RedactFields(fields)
	now := time.Now().UTC()
	actorID := ""
	if principal, ok := auth.PrincipalFromContext(ctx); ok && principal.Identity != nil {
		actorID = principal.Identity.ID
	}
	requestID := auth.RequestIDFromContext(ctx)

	if r.store != nil {
		entry := &auth.AuditEntry{
			ID:         ids.New(),
			OccurredAt: now,
			ActorID:    actorID,
			Action:     event,
			Resource:   resourceFromFields(redacted),
			ResourceID: resourceIDFromFields(redacted),
			Metadata:   flattenFields(redacted),
			RequestID:  requestID,
		}
		if serr := r.store.Audit(ctx).Append(ctx, entry); serr != nil && err == nil {
			err = serr
		}
	}

	if r.events != nil {
		r.events.Publish(stream.SecurityEvent{
			ID:        ids.New(),
			Event:     event,
			ActorID:   actorID,
			RequestID: requestID,
			At:        now,
			Fields:    redacted,
		})
	}
	return err
}

func flattenFields(fields map[string]any) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func resourceFromFields(fields map[string]any) string {
	if v, ok := fields["resource"].(string); ok {
		return v
	}
	return ""
}

func resourceIDFromFields(fields map[string]any) string {
	for _, key := range []string{"resource_id", "identity_id", "role_id"} {
		if v, ok := fields[key].(string); ok {
			return v
		}
	}
	return ""
}
