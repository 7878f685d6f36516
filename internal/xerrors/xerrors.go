package xerrors

import (
	"errors"
	iofs "io/fs"
	"net/http"
	"os"
)

// Kind classifies image store errors.
type Kind int

const (
	KindInternal Kind = iota
	KindPayloadTooLarge
	KindDuplicate
	KindDecode
	KindInvalidParameter
	KindNotFound
	KindStorage
)

var (
	// ErrRecordNotFound means the catalog holds no record for the content id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrBlobNotFound means the record exists but the requested blob is gone.
	ErrBlobNotFound = errors.New("blob not found")
)

// Error wraps an underlying error with a kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Key != "" {
		base += " " + e.Key
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindPayloadTooLarge:
		return "payload too large"
	case KindDuplicate:
		return "duplicate content"
	case KindDecode:
		return "decode error"
	case KindInvalidParameter:
		return "invalid parameter"
	case KindNotFound:
		return "not found"
	case KindStorage:
		return "storage error"
	default:
		return "internal error"
	}
}

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, key string) error {
	return &Error{Kind: kind, Op: op, Key: key}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrBlobNotFound),
		errors.Is(err, iofs.ErrNotExist),
		errors.Is(err, os.ErrNotExist):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code returned at the HTTP boundary.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindDuplicate:
		return http.StatusConflict
	case KindInvalidParameter:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
