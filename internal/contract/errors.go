package contract

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no contract exists for a key.
	ErrNotFound = errors.New("contract not found")
	// ErrAlreadyExists is returned when a catalog already holds a contract for a key.
	ErrAlreadyExists = errors.New("contract already exists")
)

// ValidationError represents a payload that does not satisfy its contract.
type ValidationError struct {
	EventType     string   `json:"event_type"`
	Version       int      `json:"version"`
	Format        string   `json:"format,omitempty"`
	Message       string   `json:"message"`
	Field         string   `json:"field,omitempty"`
	ExpectedType  string   `json:"expected_type,omitempty"`
	ActualType    string   `json:"actual_type,omitempty"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.UnknownFields) > 0 {
		return fmt.Sprintf("unknown field(s) %v not allowed in contract %s v%d",
			e.UnknownFields, e.EventType, e.Version)
	}
	if e.Field != "" {
		return fmt.Sprintf("field '%s': %s (contract %s v%d)",
			e.Field, e.Message, e.EventType, e.Version)
	}
	return fmt.Sprintf("%s (contract %s v%d)", e.Message, e.EventType, e.Version)
}

// MultiValidationError aggregates field-level failures.
type MultiValidationError struct {
	Errors []*ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ValidationDetailer surfaces structured details for API error responses.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

func (e *ValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	if len(e.UnknownFields) > 0 {
		d["unknown_fields"] = e.UnknownFields
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	return d
}

func (e *MultiValidationError) Details() map[string]interface{} {
	d := make(map[string]interface{})
	var fields []string
	for _, ve := range e.Errors {
		if ve.Field != "" {
			fields = append(fields, ve.Field)
		}
	}
	if len(fields) > 0 {
		d["fields"] = fields
	}
	return d
}

// IsValidationError reports whether err is a payload validation failure.
func IsValidationError(err error) bool {
	var single *ValidationError
	var multi *MultiValidationError
	return errors.As(err, &single) || errors.As(err, &multi)
}

func NewUnknownFieldsError(eventType string, version int, fields []string) *ValidationError {
	return &ValidationError{
		EventType:     eventType,
		Version:       version,
		Message:       fmt.Sprintf("unknown field(s) not allowed: %v", fields),
		UnknownFields: fields,
	}
}

func NewTypeMismatchError(eventType string, version int, field, expected, actual string) *ValidationError {
	return &ValidationError{
		EventType:    eventType,
		Version:      version,
		Message:      fmt.Sprintf("expected %s, got %s", expected, actual),
		Field:        field,
		ExpectedType: expected,
		ActualType:   actual,
	}
}

func NewRequiredFieldError(eventType string, version int, field string) *ValidationError {
	return &ValidationError{
		EventType: eventType,
		Version:   version,
		Message:   "required field is missing",
		Field:     field,
	}
}
