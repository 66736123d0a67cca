// Package gwerrors defines the typed error taxonomy used across the gateway.
//
// Every subsystem returns one of the Kinds below instead of ad-hoc errors so
// that the transport edge can map failures to JSON-RPC error objects or HTTP
// statuses without re-inspecting error strings. Use New/Wrap to construct,
// and Is/KindOf to classify an error returned from deeper in the stack.
package gwerrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one entry in the gateway's error taxonomy.
type Kind string

const (
	AuthRequired       Kind = "AuthRequired"
	AuthInvalid        Kind = "AuthInvalid"
	NotFound           Kind = "NotFound"
	Forbidden          Kind = "Forbidden"
	PolicyViolation    Kind = "PolicyViolation"
	SSRFBlocked        Kind = "SSRFBlocked"
	AllowlistViolation Kind = "AllowlistViolation"
	PayloadTooLarge    Kind = "PayloadTooLarge"
	UpstreamUnavailable Kind = "UpstreamUnavailable"
	UpstreamTimeout    Kind = "UpstreamTimeout"
	UpstreamError      Kind = "UpstreamError"
	CircuitOpen        Kind = "CircuitOpen"
	AcquireTimeout     Kind = "AcquireTimeout"
	Cancelled          Kind = "Cancelled"
	Internal           Kind = "Internal"
)

// httpStatus maps each Kind to the status code the transport edge emits.
var httpStatus = map[Kind]int{
	AuthRequired:        401,
	AuthInvalid:         401,
	NotFound:            404,
	Forbidden:           403,
	PolicyViolation:     422,
	SSRFBlocked:         403,
	AllowlistViolation:  403,
	PayloadTooLarge:     413,
	UpstreamUnavailable: 502,
	UpstreamTimeout:     504,
	UpstreamError:       502,
	CircuitOpen:         503,
	AcquireTimeout:      504,
	Cancelled:           499,
	Internal:            500,
}

// Error is a taxonomy-tagged error. Fields beyond Kind/Message are
// free-form detail used by specific callers (e.g. PolicyViolation carries
// Plugin/Severity/Reason via Detail).
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error's Kind maps to, defaulting
// to 500 for an unrecognized Kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs a taxonomy error with a stack-carrying cause via pkg/errors
// so that Internal errors retain a trace for logging.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: pkgerrors.New(message)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: pkgerrors.WithMessage(err, message)}
}

// WithDetail sets Detail on e and returns e itself (not a copy), for
// chaining at the construction site (e.g. gwerrors.New(PolicyViolation, "blocked").WithDetail(...)).
func (e *Error) WithDetail(d map[string]any) *Error {
	e.Detail = d
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is *Error,
// defaulting to Internal for untagged errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Internal
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
