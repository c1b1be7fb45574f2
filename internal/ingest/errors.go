package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. ErrConflict marks a
// uniqueness violation that callers absorb as an idempotent no-op.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// UpstreamKind classifies failures from external systems.
type UpstreamKind string

const (
	UpstreamRateLimited UpstreamKind = "rate_limited"
	UpstreamAuth        UpstreamKind = "auth"
	UpstreamUnavailable UpstreamKind = "unavailable"
)

// UpstreamError wraps a failure from the catalog, hub, or an enrichment
// capability.
type UpstreamError struct {
	System string
	Kind   UpstreamKind
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error (%s): %v", e.System, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError marks malformed input rejected before any side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
