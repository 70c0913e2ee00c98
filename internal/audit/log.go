package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gatekey.org/internal/identity"
	"gatekey.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes audit entries onto the shared structured logger. It
// is the sink handed to the token lifecycle manager.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record implements the lifecycle manager's audit sink. Subject is the
// profile id the event is attributed to, empty when unattributable.
func (*Recorder) Record(ctx context.Context, event, subject string, fields map[string]any) {
	_ = LogEvent(ctx, event, subject, fields)
}

// LogEvent writes an audit log entry enriched with request and identity context.
func LogEvent(ctx context.Context, event, subject string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if subject != "" {
		entry["subject"] = subject
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if snap, ok := identity.SnapshotFromContext(ctx); ok {
		entry["actor_id"] = snap.ProfileID
		entry["platform_id"] = snap.PlatformID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
