package filter

import "errors"

// Sentinel errors. ErrTooShort and ErrUnstable mean the window cannot be
// filtered reliably and should take the degraded path.
var (
	ErrTooShort    = errors.New("filter: too few samples")
	ErrUnstable    = errors.New("filter: no stable design")
	ErrInvalidArgs = errors.New("filter: invalid arguments")
)
