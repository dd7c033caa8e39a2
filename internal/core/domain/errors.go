package domain

import "errors"

// Error kinds surfaced to callers. Adapters wrap them with context using
// fmt.Errorf("%w: ...") and callers test them with errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrTimeout        = errors.New("timeout")
	ErrUnavailable    = errors.New("unavailable")
	ErrInternal       = errors.New("internal error")
)

type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "InvalidRequest"
	KindNotFound       ErrorKind = "NotFound"
	KindConflict       ErrorKind = "Conflict"
	KindTimeout        ErrorKind = "Timeout"
	KindUnavailable    ErrorKind = "Unavailable"
	KindInternal       ErrorKind = "Internal"
)

// KindOf reports the taxonomy kind of err. Errors that carry no kind are Internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Exposable reports whether the message of err was composed by this
// service and may be shown to an external caller as is.
func (k ErrorKind) Exposable() bool {
	switch k {
	case KindInvalidRequest, KindNotFound, KindConflict:
		return true
	default:
		return false
	}
}

// StoreError is a data store failure classified into the taxonomy. The
// driver error is kept for logs and never shown to callers.
type StoreError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// PublicMessage is the text an external caller may see for err.
func PublicMessage(err error) string {
	kind := KindOf(err)
	var se *StoreError
	if kind.Exposable() && !errors.As(err, &se) {
		return err.Error()
	}
	switch kind {
	case KindConflict:
		return "concurrent update detected, retry the request"
	case KindTimeout:
		return "the data store did not answer in time"
	case KindUnavailable:
		return "the data store is unavailable"
	case KindNotFound:
		return "record not found"
	case KindInvalidRequest:
		return "invalid request"
	default:
		return "internal error"
	}
}
