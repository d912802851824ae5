package batch

import (
	"errors"
	"fmt"

	"github.com/joescharf/nwbbatch/internal/gate"
)

var (
	// ErrAlreadyConverted marks a session whose output already exists. It
	// surfaces as a skipped outcome, never as a failure.
	ErrAlreadyConverted = errors.New("already converted")

	// ErrInputNotFound marks a session missing a required source.
	ErrInputNotFound = gate.ErrInputNotFound

	// ErrAbandoned marks a session that could not be attempted at all.
	ErrAbandoned = errors.New("abandoned")

	// ErrTimeout marks a conversion that overran the per-task timeout.
	ErrTimeout = errors.New("conversion timed out")

	// ErrCancelled is given to sessions never dispatched because the batch
	// was stopped. It wraps ErrAbandoned.
	ErrCancelled = fmt.Errorf("%w: batch cancelled before dispatch", ErrAbandoned)
)
