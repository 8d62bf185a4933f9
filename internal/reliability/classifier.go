package reliability

import (
	"context"
	"errors"
	"time"
)

// Kind labels a failure for routing, metrics, and HTTP status mapping.
type Kind string

const (
	KindNone                 Kind = ""
	KindValidation           Kind = "validation"
	KindRetrievalUnavailable Kind = "retrieval_unavailable"
	KindBackendUnavailable   Kind = "backend_unavailable"
	KindRateLimited          Kind = "rate_limited"
	KindTimeout              Kind = "timeout"
	KindStorage              Kind = "storage"
	KindInternal             Kind = "internal"
)

// Sentinel errors for the failure taxonomy. Packages wrap these with
// fmt.Errorf("...: %w", ...) so Classify works across layers.
var (
	ErrValidation           = errors.New("validation error")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrRateLimited          = errors.New("rate limited")
	ErrStorage              = errors.New("storage failure")
)

// Classify maps an error to its failure kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrRetrievalUnavailable):
		return KindRetrievalUnavailable
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

// Retryable reports whether a failure is worth another attempt.
// Validation and timeout failures never are.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindRetrievalUnavailable, KindBackendUnavailable:
		return true
	default:
		return false
	}
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
