package xt

import "errors"

// Construction-time validation errors. All schema and codec failures wrap one
// of these sentinels so callers can classify with errors.Is.
var (
	// ErrUnsupportedKind reports a match or target kind the registry does
	// not know.
	ErrUnsupportedKind = errors.New("xt: unsupported kind")

	// ErrUnknownParameter reports a parameter name missing from the kind's
	// schema.
	ErrUnknownParameter = errors.New("xt: unknown parameter")

	// ErrInvalidParameter reports a value that cannot be parsed for its
	// declared type, or a negation on a non-negatable parameter.
	ErrInvalidParameter = errors.New("xt: invalid parameter")
)
