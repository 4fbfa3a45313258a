// Package exporterr holds the error kinds an export can fail with.
package exporterr

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a flow depends on settings that were never supplied.
var ErrNotConfigured = errors.New("not configured")

// TransportError reports a failed upstream call. Status is 0 when no response arrived.
type TransportError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("upstream %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a success response whose body did not match the feature schema.
// ServerCode carries the code of an error envelope, 0 otherwise.
type ParseError struct {
	Endpoint   string
	ServerCode int
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Rejected reports whether the server refused the query parameters.
func (e *ParseError) Rejected() bool { return e.ServerCode == 400 }

// FieldResolutionError names a column that matches no known or reported field.
type FieldResolutionError struct {
	Field string
}

func (e *FieldResolutionError) Error() string {
	return fmt.Sprintf("property not found: %q", e.Field)
}

// PreconditionError rejects input before any work is done.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// DeliveryError wraps an email send failure so it is not mistaken for a generation failure.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Code maps err onto a short machine-readable identifier.
func Code(err error) string {
	var (
		te *TransportError
		pe *ParseError
		fe *FieldResolutionError
		ce *PreconditionError
		de *DeliveryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return "delivery_failed"
	case errors.As(err, &te), errors.As(err, &pe):
		return "upstream_failed"
	case errors.As(err, &fe):
		return "unknown_field"
	case errors.As(err, &ce):
		return "bad_request"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "internal"
	}
}
