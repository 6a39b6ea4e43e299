package jobservice

import (
	"errors"
	"fmt"
)

// ReasonStreamClosedPrematurely is the synthetic failure reason recorded when
// a status stream ends (or goes idle past the threshold) without ever
// emitting a terminal event.
const ReasonStreamClosedPrematurely = "StreamClosedPrematurely"

var (
	// ErrUpstreamUnavailable indicates a network/connection failure reaching
	// the job service.
	ErrUpstreamUnavailable = errors.New("job service unavailable")

	// ErrUpstreamTimeout indicates the job service did not respond within the
	// bounded submit timeout.
	ErrUpstreamTimeout = errors.New("job service timed out")

	// ErrStreamClosedPrematurely indicates a status stream ended without a
	// terminal event.
	ErrStreamClosedPrematurely = errors.New(ReasonStreamClosedPrematurely)
)

// RejectedError is returned when the job service answers with a non-2xx
// response; the upstream status code and body are propagated to the caller.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("job service rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}
