package repository

import "errors"

// Sentinel kinds for result store errors.
var (
	ErrNotFound     = errors.New("result not found")
	ErrInvalidRange = errors.New("invalid time range")
	ErrClosed       = errors.New("result store closed")
)
