package spectral

import "errors"

// ErrInvalidRate is returned for a non-positive or non-finite sampling rate.
var ErrInvalidRate = errors.New("spectral: invalid sampling rate")
