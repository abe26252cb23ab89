package schema

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
)

// ErrSealed is returned when a definition is changed after records have
// been created from it.
var ErrSealed = errors.New("definition is sealed")

// ErrNotFound is returned when no definition matches a lookup.
var ErrNotFound = errors.New("definition not found")

// DefinitionError describes an invalid definition, optionally with the
// CUE source position it came from.
type DefinitionError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DefinitionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FieldError describes a value that does not fit its field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// IsFieldError reports whether err is or wraps a *FieldError.
func IsFieldError(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}
