package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrMissingField     = errors.New("missing field")
	ErrUnknownLookupKey = errors.New("unknown lookup key")
)

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	KindTypeMismatch    ValidationKind = "type_mismatch"
	KindInvalidCategory ValidationKind = "invalid_category"
	KindMissingField    ValidationKind = "missing_field"
)

// ValidationError reports a single field that could not be accepted.
type ValidationError struct {
	Field   string         `json:"field"`
	Kind    ValidationKind `json:"kind"`
	Value   any            `json:"-"`
	Reason  string         `json:"reason,omitempty"`
	Allowed []string       `json:"allowed,omitempty"`
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("%s: field is required", e.Field)
	case KindInvalidCategory:
		return fmt.Sprintf("%s: %q is not one of [%s]", e.Field, fmt.Sprint(e.Value), strings.Join(e.Allowed, ", "))
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Field, e.Reason)
		}
		return fmt.Sprintf("%s: cannot use %v (%T)", e.Field, e.Value, e.Value)
	}
}

// Is matches ErrValidation and the sentinel for the error's kind.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrTypeMismatch:
		return e.Kind == KindTypeMismatch
	case ErrInvalidCategory:
		return e.Kind == KindInvalidCategory
	case ErrMissingField:
		return e.Kind == KindMissingField
	}
	return false
}

// ValidationErrors collects every rejected field of one record, in field order.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual field errors to errors.Is and errors.As.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// Fields returns the names of the rejected fields.
func (errs ValidationErrors) Fields() []string {
	names := make([]string, len(errs))
	for i, e := range errs {
		names[i] = e.Field
	}
	return names
}

// UnknownLookupKeyError is raised by the scoring engine when a categorical
// value has no entry in its lookup table.
type UnknownLookupKeyError struct {
	Field string
	Value string
}

func (e *UnknownLookupKeyError) Error() string {
	return fmt.Sprintf("%s: no score defined for %q", e.Field, e.Value)
}

func (e *UnknownLookupKeyError) Is(target error) bool {
	return target == ErrUnknownLookupKey
}
