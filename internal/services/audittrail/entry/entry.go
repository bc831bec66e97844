// Package entry defines the audit log entry model and the canonical byte
// form that both the write path and the verification engine hash.
package entry

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
)

// LogEntry is one persisted, hash-linked audit record.
//
// Entries for the same ActorID form an independent chain ordered by ID.
// PrevHash is empty for the first entry of an actor's chain.
type LogEntry struct {
	ID            int64
	ActorID       string
	Action        string
	ResourceType  string
	ResourceID    *string
	Metadata      json.RawMessage
	CreatedAt     int64
	SecretVersion string
	PrevHash      string
	Hash          string
}

// Input is what an emitter submits to the write path.
type Input struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   *string
	Metadata     json.RawMessage
	// CreatedAt is epoch seconds; zero means "now" at append time.
	CreatedAt int64
}

// NormalizeInput validates an emitter input and converts it into an unsigned
// entry with canonical metadata. Chain fields stay empty.
func NormalizeInput(in Input, now func() time.Time) (LogEntry, error) {
	if now == nil {
		now = time.Now
	}
	actorID := strings.TrimSpace(in.ActorID)
	if actorID == "" {
		return LogEntry{}, invalid("actor id is required")
	}
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return LogEntry{}, invalid("action is required")
	}
	resourceType := strings.TrimSpace(in.ResourceType)
	if resourceType == "" {
		return LogEntry{}, invalid("resource type is required")
	}

	var resourceID *string
	if in.ResourceID != nil {
		trimmed := strings.TrimSpace(*in.ResourceID)
		if trimmed != "" {
			resourceID = &trimmed
		}
	}
	for _, field := range []struct{ name, value string }{
		{"actor id", actorID},
		{"action", action},
		{"resource type", resourceType},
		{"resource id", derefString(resourceID)},
	} {
		if !utf8.ValidString(field.value) {
			return LogEntry{}, invalid(field.name + " must be valid UTF-8")
		}
	}

	metadata, err := CanonicalMetadata(in.Metadata)
	if err != nil {
		return LogEntry{}, apperrors.Wrap(apperrors.CodeEntryInvalid, "metadata must be a JSON object", err)
	}

	createdAt := in.CreatedAt
	if createdAt < 0 {
		return LogEntry{}, invalid("created at must not be negative")
	}
	if createdAt == 0 {
		createdAt = now().UTC().Unix()
	}

	return LogEntry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    createdAt,
	}, nil
}

// ResourceIDValue returns the resource id or "" when absent.
func (e LogEntry) ResourceIDValue() string {
	return derefString(e.ResourceID)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func invalid(message string) error {
	return apperrors.New(apperrors.CodeEntryInvalid, message)
}
