package auditlog

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Messages travel as google.protobuf.Struct on the wire. Each call encodes
// its Go message to JSON and from there to a Struct, so field names below
// are the wire contract. Integers stay exact up to 2^53; entry metadata is
// carried as a JSON string so number literals survive unchanged.

// Entry is a persisted log entry.
type Entry struct {
	ID            int64   `json:"id"`
	ActorID       string  `json:"actor_id"`
	Action        string  `json:"action"`
	ResourceType  string  `json:"resource_type"`
	ResourceID    *string `json:"resource_id"`
	MetadataJSON  string  `json:"metadata_json"`
	CreatedAt     int64   `json:"created_at"`
	SecretVersion string  `json:"secret_version"`
	PrevHash      string  `json:"prev_hash"`
	Hash          string  `json:"hash"`
}

// AppendEntryRequest submits a new entry to the write path.
type AppendEntryRequest struct {
	ActorID      string  `json:"actor_id"`
	Action       string  `json:"action"`
	ResourceType string  `json:"resource_type"`
	ResourceID   *string `json:"resource_id"`
	MetadataJSON string  `json:"metadata_json"`
	CreatedAt    int64   `json:"created_at"`
}

// AppendEntryResponse returns the sealed entry.
type AppendEntryResponse struct {
	Entry Entry `json:"entry"`
}

// UpdateEntryRequest asks to change a persisted entry. It always fails.
type UpdateEntryRequest struct {
	Entry Entry `json:"entry"`
}

// DeleteEntryRequest asks to remove a persisted entry. It always fails.
type DeleteEntryRequest struct {
	ID int64 `json:"id"`
}

// Empty is the response of calls with no payload.
type Empty struct{}

// VerifyRequest starts a verification run.
type VerifyRequest struct {
	Scope   string `json:"scope"`
	ActorID string `json:"actor_id"`
	Trigger string `json:"trigger"`
}

// Run is a recorded verification run.
type Run struct {
	Seq             int64     `json:"seq"`
	ID              string    `json:"id"`
	RunAt           time.Time `json:"run_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Scope           string    `json:"scope"`
	ActorID         string    `json:"actor_id"`
	Status          string    `json:"status"`
	Intact          bool      `json:"intact"`
	TotalEntries    int64     `json:"total_entries"`
	VerifiedEntries int64     `json:"verified_entries"`
	BrokenAtEntryID *int64    `json:"broken_at_entry_id"`
	BreakReason     string    `json:"break_reason"`
	Expected        string    `json:"expected"`
	Actual          string    `json:"actual"`
	Error           string    `json:"error"`
	SourceTrigger   string    `json:"source_trigger"`
	LastEntryID     int64     `json:"last_entry_id"`
	LastHash        string    `json:"last_hash"`
}

// VerifyResponse lists the runs a verification produced. Error is set when
// some runs failed to record; the runs that were produced are still listed.
type VerifyResponse struct {
	Runs  []Run  `json:"runs"`
	Error string `json:"error,omitempty"`
}

// GetStatusRequest asks for the integrity state.
type GetStatusRequest struct{}

// BrokenLink is a chain break in a status report.
type BrokenLink struct {
	Index    int64  `json:"index"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	RunID    string `json:"run_id"`
}

// Health summarizes recent runs.
type Health struct {
	Runs        int     `json:"runs"`
	Intact      int     `json:"intact"`
	SuccessRate float64 `json:"success_rate"`
}

// GetStatusResponse is the integrity state.
type GetStatusResponse struct {
	State           string       `json:"state"`
	Intact          bool         `json:"intact"`
	TotalEntries    int64        `json:"total_entries"`
	VerifiedEntries int64        `json:"verified_entries"`
	BrokenLinks     []BrokenLink `json:"broken_links"`
	CheckedAt       *time.Time   `json:"checked_at"`
	Health          Health       `json:"health"`
	Detail          string       `json:"detail"`
}

// ListAlertsRequest bounds an alert listing.
type ListAlertsRequest struct {
	Since *time.Time `json:"since"`
	Until *time.Time `json:"until"`
	Limit int        `json:"limit"`
}

// Alert is a surfaced chain break.
type Alert struct {
	RunID          string     `json:"run_id"`
	Scope          string     `json:"scope"`
	ActorID        string     `json:"actor_id"`
	EntryID        int64      `json:"entry_id"`
	Reason         string     `json:"reason"`
	Expected       string     `json:"expected"`
	Actual         string     `json:"actual"`
	DetectedAt     time.Time  `json:"detected_at"`
	Acknowledged   bool       `json:"acknowledged"`
	Cleared        bool       `json:"cleared"`
	AcknowledgedBy string     `json:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	Note           string     `json:"note"`
}

// ListAlertsResponse lists alerts newest first.
type ListAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

// AlertActionRequest acknowledges or clears one alert.
type AlertActionRequest struct {
	RunID string `json:"run_id"`
	Note  string `json:"note"`
}

// AlertActionResponse returns the alert after the action.
type AlertActionResponse struct {
	Alert Alert `json:"alert"`
}

// ListRunsRequest lists recent runs.
type ListRunsRequest struct {
	Limit int `json:"limit"`
}

// ListRunsResponse lists runs newest first.
type ListRunsResponse struct {
	Runs []Run `json:"runs"`
}

// SecretVersion describes a key version without its material.
type SecretVersion struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	Current   bool      `json:"current"`
}

// RotateSecretRequest adds a new current key version. Material is base64.
type RotateSecretRequest struct {
	Version  string `json:"version"`
	Material string `json:"material"`
}

// RotateSecretResponse returns the new current version.
type RotateSecretResponse struct {
	Secret SecretVersion `json:"secret"`
}

// ListSecretVersionsRequest lists key versions.
type ListSecretVersionsRequest struct{}

// ListSecretVersionsResponse lists key versions oldest first.
type ListSecretVersionsResponse struct {
	Versions []SecretVersion `json:"versions"`
}

func encodeMessage(msg any) (*structpb.Struct, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal message fields: %w", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return out, nil
}

func decodeMessage(in *structpb.Struct, msg any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
