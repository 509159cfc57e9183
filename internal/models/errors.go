package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")

	ErrUnsupportedSource   = errors.New("unsupported source")
	ErrExtractionTransient = errors.New("transient extraction error")
	ErrExtractionFatal     = errors.New("fatal extraction error")
	ErrDelivery            = errors.New("callback delivery failed")
)

// ValidationError reports a malformed request. It matches ErrValidation.
type ValidationError struct {
	Field string
	Msg   string
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnsupportedSourceError is returned when no provider is registered for a
// source kind. It is never retried.
type UnsupportedSourceError struct {
	Source SourceKind
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("no extraction provider registered for source %q", e.Source)
}

func (e *UnsupportedSourceError) Is(target error) bool {
	return target == ErrUnsupportedSource || target == ErrExtractionFatal
}

// ExtractionError is the classified failure of a single extraction attempt.
// Transient errors match ErrExtractionTransient, all others ErrExtractionFatal.
type ExtractionError struct {
	Transient bool
	Msg       string
	Err       error
}

// NewTransientError builds a retryable extraction error.
func NewTransientError(msg string, cause error) *ExtractionError {
	return &ExtractionError{Transient: true, Msg: msg, Err: cause}
}

// NewFatalError builds a non-retryable extraction error.
func NewFatalError(msg string, cause error) *ExtractionError {
	return &ExtractionError{Msg: msg, Err: cause}
}

func (e *ExtractionError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	if e.Transient {
		return ErrExtractionTransient.Error()
	}
	return ErrExtractionFatal.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool {
	if e.Transient {
		return target == ErrExtractionTransient
	}
	return target == ErrExtractionFatal
}

// DeliveryError describes one failed callback attempt. StatusCode is zero
// when no response was received.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("callback returned HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		return "callback request failed: " + e.Err.Error()
	}
	return ErrDelivery.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
