package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"SignalHub/internal/domain/models"
)

// DeliveryError classifies an adapter failure as retryable or terminal.
type DeliveryError struct {
	Destination models.Destination
	Retryable   bool
	Code        string
	Err         error
}

func (e *DeliveryError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s delivery error (%s): %v", e.Destination, kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s delivery error: %v", e.Destination, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func Retryable(dest models.Destination, code string, err error) error {
	return &DeliveryError{Destination: dest, Retryable: true, Code: code, Err: err}
}

func Terminal(dest models.Destination, code string, err error) error {
	return &DeliveryError{Destination: dest, Retryable: false, Code: code, Err: err}
}

// IsRetryable reports whether another attempt may succeed. Unclassified errors
// are retried only when they look like timeouts or transient network faults.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return IsTransient(err)
}

// IsTransient detects deadline and network errors.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
