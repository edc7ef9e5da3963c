package sqlstore

import "errors"

// Sentinel kinds for SQL store errors.
var (
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrNoOpenAssignment  = errors.New("no open assignment")
)
