// Package errors provides structured error handling for the reader service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request validation
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Reading errors
	CodeUnknownSpread  Code = "UNKNOWN_SPREAD"
	CodeNoActiveSpread Code = "NO_ACTIVE_SPREAD"

	// Draw errors
	CodeTooManyUniqueCards Code = "TOO_MANY_UNIQUE_CARDS"
	CodeEntropyExhausted   Code = "ENTROPY_EXHAUSTED"

	// Provider errors
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument,
		CodeUnknownSpread,
		CodeTooManyUniqueCards:
		return http.StatusBadRequest

	case CodeNoActiveSpread:
		return http.StatusConflict

	case CodeNotFound:
		return http.StatusNotFound

	case CodeEntropyExhausted,
		CodeProviderUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
