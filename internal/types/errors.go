// README: Error kinds shared across the booking core; every failure surfaced to callers wraps exactly one.
package types

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDanglingReference   = errors.New("dangling reference")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrWorkerUnavailable   = errors.New("worker unavailable")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrNotFound            = errors.New("not found")
)

type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindDanglingReference   ErrorKind = "dangling_reference"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindWorkerUnavailable   ErrorKind = "worker_unavailable"
	KindInsufficientData    ErrorKind = "insufficient_data"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindNotFound            ErrorKind = "not_found"
	KindInternal            ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrDanglingReference, KindDanglingReference},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrWorkerUnavailable, KindWorkerUnavailable},
	{ErrInsufficientData, KindInsufficientData},
	{ErrProviderUnavailable, KindProviderUnavailable},
	{ErrNotFound, KindNotFound},
}

// KindOf classifies err. Anything not wrapping a known sentinel is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
