package edit

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid arguments detected before any model query.
	ErrConfiguration = errors.New("configuration error")
	// ErrModelQuery marks a token source that could not answer.
	ErrModelQuery = errors.New("model query failure")
	// ErrEmptyPrompt is returned when the prompt encodes to zero tokens.
	ErrEmptyPrompt = errors.New("prompt encodes to zero tokens")
)

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Err}
}

// QueryError reports a failed query against the target or draft source.
// Position is the context length the query was issued at.
type QueryError struct {
	Source   string
	Position int
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("model query failure: %s source at position %d: %v", e.Source, e.Position, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrModelQuery, e.Err}
}

func configErr(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
