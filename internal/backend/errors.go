package backend

import (
	"errors"
	"fmt"

	"github.com/roach88/recsync/internal/wire"
)

// errNotCompilable marks a restriction node the SQL filter cannot
// evaluate the way restriction.Match does.
var errNotCompilable = errors.New("restriction not expressible in SQL")

func notFound(id string) error {
	return &wire.Error{Code: wire.CodeNotFound, Message: fmt.Sprintf("item %s does not exist", id)}
}

func invalid(format string, args ...any) error {
	return &wire.Error{Code: wire.CodeInvalid, Message: fmt.Sprintf(format, args...)}
}

func conflict(id string, have, sent int64) error {
	return &wire.Error{
		Code:    wire.CodeConflict,
		Message: fmt.Sprintf("item %s is at version %d, request was based on %d", id, have, sent),
	}
}
