package store

import (
	"encoding/json"
	"fmt"

	"harvest/internal/models"
)

// MarshalDocument encodes a result document for a JSON/TEXT column.
func MarshalDocument(doc *models.ExtractedDocument) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode result document: %w", err)
	}
	return b, nil
}

// UnmarshalDocument decodes a result column. Empty input yields nil.
func UnmarshalDocument(b []byte) (*models.ExtractedDocument, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc models.ExtractedDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode result document: %w", err)
	}
	return &doc, nil
}

// Predecessors returns the statuses from which a transition to next is allowed.
func Predecessors(next models.Status) []string {
	var out []string
	for _, s := range models.AllStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// CheckStatusUpdate rejects UpdateJobStatus targets that are unknown or
// terminal; terminal transitions go through SetJobResult/SetJobError.
func CheckStatusUpdate(status models.Status) error {
	if !status.Valid() {
		return models.NewValidationError("status", "unknown status %q", status)
	}
	if status.IsTerminal() {
		return models.NewValidationError("status", "%s must be set together with its result or error", status)
	}
	return nil
}
