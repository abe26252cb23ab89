package record

import (
	"errors"
	"fmt"
)

// MisuseError reports a programmer error: an operation that would break
// dirty tracking or identity invariants if it were allowed to proceed.
type MisuseError struct {
	// Code identifies the error category.
	Code MisuseCode

	// Message is a human-readable description.
	Message string

	// RecordID identifies the record involved, if any.
	RecordID string

	// Err is the underlying cause, if any.
	Err error
}

// MisuseCode categorizes misuse errors.
type MisuseCode string

const (
	// ErrCodeEditDepth indicates EndEdit without a matching BeginEdit.
	ErrCodeEditDepth MisuseCode = "EDIT_DEPTH"

	// ErrCodeDestroyed indicates an operation on a destroyed record.
	ErrCodeDestroyed MisuseCode = "DESTROYED"

	// ErrCodeDuplicateIdentity indicates a second child with an identity
	// already present in a sub-store.
	ErrCodeDuplicateIdentity MisuseCode = "DUPLICATE_IDENTITY"

	// ErrCodeUnknownField indicates a field the record's schema does not
	// declare.
	ErrCodeUnknownField MisuseCode = "UNKNOWN_FIELD"

	// ErrCodeAlreadyAssigned indicates a second permanent id assignment.
	ErrCodeAlreadyAssigned MisuseCode = "ALREADY_ASSIGNED"

	// ErrCodeForeignRecord indicates a record that already belongs to
	// another container.
	ErrCodeForeignRecord MisuseCode = "FOREIGN_RECORD"
)

// Error implements the error interface.
func (e *MisuseError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RecordID != "" {
		msg += fmt.Sprintf(" (record=%s)", e.RecordID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *MisuseError) Unwrap() error { return e.Err }

func misuse(code MisuseCode, id, format string, args ...any) *MisuseError {
	return &MisuseError{Code: code, Message: fmt.Sprintf(format, args...), RecordID: id}
}

// IsMisuse reports whether err is a MisuseError.
func IsMisuse(err error) bool {
	var me *MisuseError
	return errors.As(err, &me)
}

// MisuseCodeOf returns the code of a MisuseError, or "".
func MisuseCodeOf(err error) MisuseCode {
	var me *MisuseError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsDuplicateIdentity reports whether err is a duplicate identity misuse.
func IsDuplicateIdentity(err error) bool {
	return MisuseCodeOf(err) == ErrCodeDuplicateIdentity
}

// IsDestroyed reports whether err is an operation on a destroyed record.
func IsDestroyed(err error) bool {
	return MisuseCodeOf(err) == ErrCodeDestroyed
}
