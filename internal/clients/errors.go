// Package clients talks to the auth and AI microservices.
package clients

import (
	"errors"
	"fmt"
)

// ErrAuthentication is returned when a token cannot be verified, whether the
// auth service rejected it or could not be reached.
var ErrAuthentication = errors.New("authentication failed")

// DownstreamError is a failed call to the AI service. StatusCode is zero for
// transport errors and timeouts.
type DownstreamError struct {
	StatusCode int
	Err        error
}

func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai service returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai service call failed: %v", e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }
