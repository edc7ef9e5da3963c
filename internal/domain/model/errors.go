package model

import "errors"

// Sentinel errors for model validation.
var (
	ErrInvalidSample = errors.New("invalid sample")
)
