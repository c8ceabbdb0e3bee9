package shared

import "errors"

var (
	// ErrUnauthenticated indicates the request carries no usable principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidPrincipal indicates the principal header could not be parsed.
	ErrInvalidPrincipal = errors.New("invalid principal")
)
