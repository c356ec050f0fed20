package model

import "errors"

// Error is the top-level error type every subsystem's error kind implements,
// so callers can branch on Kind() without importing every subsystem's error
// package (Design Note "Error taxonomy leakage").
type Error interface {
	error
	Kind() string
}

// As is a thin convenience wrapper around errors.As for the common case of
// recovering a model.Error from a wrapped chain.
func As(err error, target *Error) bool {
	return errors.As(err, target)
}
