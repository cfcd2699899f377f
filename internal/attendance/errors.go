package attendance

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the external system rejected the bearer token.
	ErrUnauthorized = errors.New("attendance api: unauthorized")
	// ErrNoToken means no usable access token could be obtained.
	ErrNoToken = errors.New("attendance api: no valid access token")
	// ErrRejected means the call succeeded but the payload carried no success marker.
	ErrRejected = errors.New("attendance api: event rejected")
)

// DeliveryError is a failed delivery attempt.
type DeliveryError struct {
	Status    int // HTTP status, 0 for transport errors
	Body      string
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("attendance delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("attendance delivery failed with status %d: %s", e.Status, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// statusError classifies an unexpected HTTP status.
func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return &DeliveryError{Status: status, Body: body, Err: ErrUnauthorized}
	case status == http.StatusTooManyRequests, status >= 500:
		return &DeliveryError{Status: status, Body: body, Retryable: true}
	default:
		return &DeliveryError{Status: status, Body: body}
	}
}

// IsRetryable reports whether another attempt may succeed: transport
// failures, 429 and 5xx.
func IsRetryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
