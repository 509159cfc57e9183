package models

import "strings"

// Status is the lifecycle state of an extraction job.
type Status string

// Job status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ParseStatus parses a case-insensitive status name.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", NewValidationError("status", "unknown status %q (expected pending, processing, completed or failed)", raw)
	}
	return s, nil
}

// SourceKind identifies which extraction provider handles a job.
type SourceKind string

const (
	SourceWeb         SourceKind = "web"
	SourcePDF         SourceKind = "pdf"
	SourceSpreadsheet SourceKind = "spreadsheet"
	SourceSocial      SourceKind = "social"
)

// AllSourceKinds lists the supported source kinds.
var AllSourceKinds = []SourceKind{SourceWeb, SourcePDF, SourceSpreadsheet, SourceSocial}

func (k SourceKind) String() string { return string(k) }

func (k SourceKind) Valid() bool {
	switch k {
	case SourceWeb, SourcePDF, SourceSpreadsheet, SourceSocial:
		return true
	}
	return false
}

// RequiresTarget reports whether jobs of this kind need a URL target
// (file uploads are only accepted for document kinds).
func (k SourceKind) RequiresTarget() bool {
	return k == SourceWeb || k == SourceSocial
}

// ParseSourceKind parses a source name. "excel" is accepted as an alias
// for spreadsheet.
func ParseSourceKind(raw string) (SourceKind, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "excel" {
		return SourceSpreadsheet, nil
	}
	k := SourceKind(name)
	if !k.Valid() {
		return "", NewValidationError("source", "unknown source %q (expected web, pdf, spreadsheet or social)", raw)
	}
	return k, nil
}
