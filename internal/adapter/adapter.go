// Package adapter implements the destination adapters the dispatcher pushes
// signals to.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"SignalHub/internal/domain/models"
	domrepo "SignalHub/internal/domain/repository"

	"golang.org/x/time/rate"
)

// newLimiter returns nil when perSecond is not positive, which disables
// limiting.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func waitLimiter(ctx context.Context, dest models.Destination, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return domrepo.Retryable(dest, "rate_limited", err)
	}
	return nil
}

// classifyStatus maps an HTTP status to a delivery error. 429 and 5xx may
// succeed later; other codes will not.
func classifyStatus(dest models.Destination, status int, err error) error {
	code := strconv.Itoa(status)
	if status == http.StatusTooManyRequests || status >= 500 {
		return domrepo.Retryable(dest, code, err)
	}
	if status >= 400 {
		return domrepo.Terminal(dest, code, err)
	}
	return domrepo.Retryable(dest, code, err)
}

// classifyUnknown wraps errors that carry no status. Context cancellation is
// terminal so a stopping dispatcher does not schedule more attempts.
func classifyUnknown(dest models.Destination, err error) error {
	if errors.Is(err, context.Canceled) {
		return domrepo.Terminal(dest, "cancelled", err)
	}
	return domrepo.Retryable(dest, "transport", err)
}
