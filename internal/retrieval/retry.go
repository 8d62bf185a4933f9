package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antoniostano/mentora/internal/reliability"
)

const (
	defaultAttempts    = 3
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffCap  = 2 * time.Second
)

// RetryingIndex wraps an Index with bounded exponential backoff. After the
// budget is exhausted the error classifies as retrieval-unavailable so the
// orchestrator degrades to an empty result set instead of failing the query.
type RetryingIndex struct {
	inner       Index
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRetrying(inner Index, attempts int) *RetryingIndex {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return &RetryingIndex{
		inner:       inner,
		attempts:    attempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleep:       sleepCtx,
	}
}

func (r *RetryingIndex) Search(ctx context.Context, collection, query string, topK int) ([]RetrievedChunk, error) {
	var chunks []RetrievedChunk
	err := r.retry(ctx, func() error {
		var innerErr error
		chunks, innerErr = r.inner.Search(ctx, collection, query, topK)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return chunks, nil
}

func (r *RetryingIndex) IndexDocument(ctx context.Context, collection string, doc Document) ([]string, error) {
	var ids []string
	err := r.retry(ctx, func() error {
		var innerErr error
		ids, innerErr = r.inner.IndexDocument(ctx, collection, doc)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("index %s into %s: %w", doc.ID, collection, err)
	}
	return ids, nil
}

func (r *RetryingIndex) retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, reliability.ExponentialBackoff(attempt-1, r.backoffBase, r.backoffCap)); err != nil {
				return err
			}
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		// Malformed input and cancellation never heal with another attempt.
		if !reliability.Retryable(lastErr) {
			return lastErr
		}
	}
	if errors.Is(lastErr, reliability.ErrRetrievalUnavailable) {
		return lastErr
	}
	return fmt.Errorf("%w: %w", reliability.ErrRetrievalUnavailable, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
