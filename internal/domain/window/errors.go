package window

import "errors"

// ErrEmptyWindow is returned when a window without samples is analysed.
var ErrEmptyWindow = errors.New("window: no samples")
