package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"linerelay/internal/domain"
)

// apiError is a non-2xx response from a provider API. The body is kept for
// logging; it never reaches the end user.
type apiError struct {
	provider string
	status   int
	body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.provider, e.status, e.body)
}

// classify folds any provider-level error into a failure kind. This is the
// single place where transport errors, HTTP statuses, and cancellations
// become part of the relay's error taxonomy.
func classify(err error) domain.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailTimeout
	}

	var ae *apiError
	if errors.As(err, &ae) {
		switch {
		case ae.status == http.StatusTooManyRequests:
			return domain.FailRateLimited
		case ae.status == http.StatusBadRequest,
			ae.status == http.StatusRequestEntityTooLarge,
			ae.status == http.StatusUnsupportedMediaType,
			ae.status == http.StatusUnprocessableEntity:
			return domain.FailInvalidContent
		case ae.status == http.StatusUnauthorized,
			ae.status == http.StatusForbidden,
			ae.status >= 500:
			return domain.FailProviderUnavailable
		default:
			return domain.FailUnknown
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return domain.FailTimeout
		}
		return domain.FailProviderUnavailable
	}

	return domain.FailUnknown
}

// retryable reports whether a failure of this kind may succeed on a
// different provider in the failover chain.
func retryable(kind domain.FailureKind) bool {
	return kind == domain.FailProviderUnavailable ||
		kind == domain.FailRateLimited ||
		kind == domain.FailTimeout
}
