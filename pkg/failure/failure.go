// Package failure classifies errors into the four kinds callers act on:
// fix the input, resolve a conflict, retry later, or give up.
package failure

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) FailureKind() Kind {
	return e.Kind
}

func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Validation, Conflict, Transient and Permanent build sentinel errors of the
// matching kind.
func Validation(msg string) error { return New(KindValidation, errors.New(msg)) }
func Conflict(msg string) error   { return New(KindConflict, errors.New(msg)) }
func Transient(msg string) error  { return New(KindTransient, errors.New(msg)) }
func Permanent(msg string) error  { return New(KindPermanent, errors.New(msg)) }

// Kinder is implemented by error types that know their own kind.
type Kinder interface {
	FailureKind() Kind
}

// KindOf walks the wrap chain and returns the outermost kind it finds.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.FailureKind()
	}
	return KindUnknown
}

// IsRetryable reports whether the caller may reasonably try again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
