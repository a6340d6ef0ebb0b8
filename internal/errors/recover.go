// Package errors turns panics in the profiler's background loops into
// logged errors.
package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// PanicError is a recovered panic turned into an error.
type PanicError struct {
	Where string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Where, e.Value)
}

// Recover converts a panic in the deferring function into a logged error.
// It must be called directly by defer:
//
//	defer errors.Recover(logger, "sampler tick")
func Recover(logger zerolog.Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, &PanicError{Where: where, Value: r, Stack: debug.Stack()})
	}
}

// RecoverTo is like Recover but also stores the error in *errp when it is
// still nil, so the deferring function can return it.
func RecoverTo(logger zerolog.Logger, where string, errp *error) {
	if r := recover(); r != nil {
		perr := &PanicError{Where: where, Value: r, Stack: debug.Stack()}
		logPanic(logger, perr)
		if errp != nil && *errp == nil {
			*errp = perr
		}
	}
}

func logPanic(logger zerolog.Logger, err *PanicError) {
	logger.Error().
		Str("where", err.Where).
		Interface("panic", err.Value).
		Bytes("stack", err.Stack).
		Msg("Recovered from panic")
}
