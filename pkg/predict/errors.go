package predict

import (
	"errors"
	"fmt"

	"medscan/pkg/failure"
)

var (
	ErrUnknownModelType = failure.Validation("unknown model type")
	ErrNotImage         = failure.Validation("file is not an image")
	ErrEmptyFile        = failure.Validation("file is empty")
	ErrInvalidRecord    = failure.Validation("invalid prediction record")
)

// ErrorKind discriminates the ways a Submit call can fail.
type ErrorKind int

const (
	// KindBadRequest: the endpoint rejected the image (HTTP 400).
	KindBadRequest ErrorKind = iota + 1
	// KindHTTP: any other non-2xx status, or a 2xx with an unusable body.
	KindHTTP
	// KindNetwork: the request never produced a response.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindHTTP:
		return "http_error"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Submit for remote failures.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindBadRequest:
		return e.Message
	case KindHTTP:
		if e.Message != "" {
			return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	default:
		if e.Err != nil {
			return "network error: " + e.Err.Error()
		}
		return "network error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) FailureKind() failure.Kind {
	switch e.Kind {
	case KindBadRequest:
		return failure.KindValidation
	case KindNetwork:
		return failure.KindTransient
	default:
		return failure.KindPermanent
	}
}

// IsBadRequest reports whether err is a remote validation failure and
// returns its message.
func IsBadRequest(err error) (string, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindBadRequest {
		return pe.Message, true
	}
	return "", false
}

// ErrorKindOf returns the kind of a remote failure, or 0 when err did not
// come from a remote call.
func ErrorKindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
