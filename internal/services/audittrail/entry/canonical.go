package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
)

// CanonicalMetadata re-encodes a metadata payload deterministically.
//
// The payload must be a single JSON object (empty input becomes "{}").
// Object keys are sorted at every depth, numbers keep their literal text and
// HTML characters are not escaped, so equal payloads always produce equal
// bytes regardless of how the emitter formatted them.
func CanonicalMetadata(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	// The decoder would replace invalid bytes with U+FFFD, folding distinct
	// payloads into the same signed bytes.
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("decode metadata: payload is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode metadata: trailing data after object")
	}
	if _, ok := value.(map[string]any); !ok {
		return nil, fmt.Errorf("decode metadata: top-level value must be an object")
	}

	out, err := encodeCompact(value)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return out, nil
}

// Canonical returns the bytes signed for e when linked after prevHash.
//
// The layout is a compact JSON array in this fixed order:
//
//	[prevHash, actorId, action, resourceType, resourceId|null, metadata, createdAt]
//
// createdAt is an integer number of epoch seconds. No other entry field is
// covered; ID and SecretVersion are bound through ordering and key choice.
// Every string must be valid UTF-8: JSON encoding would otherwise map
// different byte strings to the same output.
func Canonical(prevHash string, e LogEntry) ([]byte, error) {
	for _, value := range []string{prevHash, e.ActorID, e.Action, e.ResourceType, e.ResourceIDValue()} {
		if !utf8.ValidString(value) {
			return nil, apperrors.New(apperrors.CodeEntryInvalid, "entry field is not valid UTF-8")
		}
	}
	metadata, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	var resourceID any
	if e.ResourceID != nil {
		resourceID = *e.ResourceID
	}
	return encodeCompact([]any{
		prevHash,
		e.ActorID,
		e.Action,
		e.ResourceType,
		resourceID,
		metadata,
		e.CreatedAt,
	})
}

func encodeCompact(value any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
