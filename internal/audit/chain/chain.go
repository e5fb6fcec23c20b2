// Package chain computes and verifies the SHA-256 hash chain over audit events.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

// GenesisHash is the previous hash of the first event of every tenant chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Fields is the subset of an audit event covered by its hash.
type Fields struct {
	EventType     string
	UserID        string
	EntityType    string
	EntityID      string
	ActionDetails map[string]any
	Timestamp     time.Time
}

// FieldsOf extracts the hashed fields of an event.
func FieldsOf(e *domain.AuditEvent) Fields {
	return Fields{
		EventType:     string(e.EventType),
		UserID:        e.ActorID.String(),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID.String(),
		ActionDetails: e.ActionDetails,
		Timestamp:     e.Timestamp,
	}
}

// ComputeHash returns the hex SHA-256 of the canonical form of f linked to
// previousHash. An empty previousHash is replaced by GenesisHash.
//
// The canonical form is a JSON object with lexicographically sorted keys at
// every level; encoding/json sorts map keys, which makes the output
// independent of map iteration order.
func ComputeHash(f Fields, previousHash string) (string, error) {
	if previousHash == "" {
		previousHash = GenesisHash
	}

	details := f.ActionDetails
	if details == nil {
		details = map[string]any{}
	}

	payload, err := Canonicalize(map[string]any{
		"event_type":     f.EventType,
		"user_id":        f.UserID,
		"entity_type":    f.EntityType,
		"entity_id":      f.EntityID,
		"action_details": details,
		"timestamp":      f.Timestamp.UTC().Format(time.RFC3339Nano),
		"previous_hash":  previousHash,
	})
	if err != nil {
		return "", fmt.Errorf("chain.ComputeHash: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// DataIntegrityHash digests the before/after value maps of an event.
func DataIntegrityHash(oldValues, newValues map[string]any) (string, error) {
	payload, err := Canonicalize(map[string]any{
		"old_values": oldValues,
		"new_values": newValues,
	})
	if err != nil {
		return "", fmt.Errorf("chain.DataIntegrityHash: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize serializes v as compact JSON with sorted object keys.
func Canonicalize(v any) ([]byte, error) {
	// Round-trip through a generic value so struct field order never leaks
	// into the canonical form.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Result is the outcome of a chain verification.
type Result struct {
	Valid         bool      `json:"valid"`
	TotalEvents   int       `json:"total_events"`
	BreakPoint    int       `json:"break_point"` // -1 when valid
	BrokenEventID uuid.UUID `json:"broken_event_id,omitempty"`
	ExpectedHash  string    `json:"expected_hash,omitempty"`
	ActualHash    string    `json:"actual_hash,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

func valid(n int) Result {
	return Result{Valid: true, TotalEvents: n, BreakPoint: -1}
}

// VerifyChain walks events (ordered by timestamp) once and checks that every
// event links to its predecessor. It reports the first mismatch.
func VerifyChain(events []*domain.AuditEvent) Result {
	for i := 1; i < len(events); i++ {
		if events[i].PreviousHash != events[i-1].Hash {
			return Result{
				TotalEvents:   len(events),
				BreakPoint:    i,
				BrokenEventID: events[i].ID,
				ExpectedHash:  events[i-1].Hash,
				ActualHash:    events[i].PreviousHash,
				Reason:        "previous_hash does not match predecessor hash",
			}
		}
	}
	return valid(len(events))
}

// VerifyContent recomputes every event hash and reports the first event whose
// stored hash does not match its content, or the first broken link.
func VerifyContent(events []*domain.AuditEvent) (Result, error) {
	for i, e := range events {
		if i > 0 && e.PreviousHash != events[i-1].Hash {
			return Result{
				TotalEvents:   len(events),
				BreakPoint:    i,
				BrokenEventID: e.ID,
				ExpectedHash:  events[i-1].Hash,
				ActualHash:    e.PreviousHash,
				Reason:        "previous_hash does not match predecessor hash",
			}, nil
		}

		want, err := ComputeHash(FieldsOf(e), e.PreviousHash)
		if err != nil {
			return Result{}, fmt.Errorf("chain.VerifyContent: event %s: %w", e.ID, err)
		}
		if want != e.Hash {
			return Result{
				TotalEvents:   len(events),
				BreakPoint:    i,
				BrokenEventID: e.ID,
				ExpectedHash:  want,
				ActualHash:    e.Hash,
				Reason:        "stored hash does not match event content",
			}, nil
		}
	}
	return valid(len(events)), nil
}
