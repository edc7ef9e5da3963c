package service

import "errors"

// Store names used in metrics and logs.
const (
	samplesStoreName = "samples"
	resultsStoreName = "results"
)

// Sentinel kinds for invocation errors.
var (
	ErrSampleStore    = errors.New("sample store unavailable")
	ErrResultStore    = errors.New("result store unavailable")
	ErrInvalidRequest = errors.New("invalid process request")
	ErrNotStarted     = errors.New("service not started")
	ErrQueueFull      = errors.New("trigger queue full")
)
