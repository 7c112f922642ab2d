// Package fault defines the error taxonomy shared by the table-store and
// object-store adapters and the promotion orchestrator. Errors are classified
// into a small set of Kinds which callers branch on, rather than inspecting
// backend-specific error types.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an adapter or orchestrator error.
type Kind int

const (
	// Other is an unclassified error.
	Other Kind = iota
	// NotFound indicates a referenced table, object, or prefix is absent.
	NotFound
	// Conflict indicates a naming collision, or that a repair pass found an
	// invalid number of generations claiming the active slot.
	Conflict
	// Transient indicates a retryable connectivity or timeout failure.
	Transient
	// Fatal indicates a DDL failure or corrupted naming state requiring
	// operator intervention.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not-found"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "other"
	}
}

type kindErr struct {
	kind Kind
	err  error
}

func (e kindErr) Error() string { return e.err.Error() }

// Cause supports github.com/pkg/errors.Cause chains.
func (e kindErr) Cause() error { return e.err }

// Unwrap supports the stdlib errors.Is / errors.As chains.
func (e kindErr) Unwrap() error { return e.err }

// WithKind wraps |err| with the given Kind. A nil |err| returns nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return kindErr{kind: kind, err: err}
}

// Errorf builds a new error of the given Kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return kindErr{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf walks the cause chain of |err| and returns the first Kind found,
// or Other if the chain carries no classification.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(kindErr); ok {
			return ke.kind
		}
		switch e := err.(type) {
		case interface{ Cause() error }:
			err = e.Cause()
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		default:
			err = nil
		}
	}
	return Other
}

// IsNotFound returns whether |err| is classified NotFound.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsConflict returns whether |err| is classified Conflict.
func IsConflict(err error) bool { return KindOf(err) == Conflict }

// IsTransient returns whether |err| is classified Transient.
func IsTransient(err error) bool { return KindOf(err) == Transient }

// IsFatal returns whether |err| is classified Fatal.
func IsFatal(err error) bool { return KindOf(err) == Fatal }

// Annotate wraps |err| with a message while preserving its Kind.
func Annotate(err error, msg string) error {
	if err == nil {
		return nil
	}
	return WithKind(KindOf(err), errors.WithMessage(err, msg))
}
