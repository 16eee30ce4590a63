package generic

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// =============================================================================
// RETRYING STORE - Backoff decorator, applied at process start
// =============================================================================

// RetryingStore retries transient RateStore failures with exponential
// backoff. Not-found and other permanent errors return immediately. The
// pure engine never retries; this wraps the collaborator instead.
type RetryingStore struct {
	Next            RateStore
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	Logger          *slog.Logger
}

// NewRetryingStore wraps next with sensible defaults.
func NewRetryingStore(next RateStore) *RetryingStore {
	return &RetryingStore{
		Next:            next,
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxElapsed:      2 * time.Second,
		Logger:          slog.Default(),
	}
}

func (r *RetryingStore) Query(ctx context.Context, category Category, q Conditions, asOf Date) (RateRecord, error) {
	op := func() (RateRecord, error) {
		rec, err := r.Next.Query(ctx, category, q, asOf)
		if err != nil && !IsRetryable(err) {
			return rec, backoff.Permanent(err)
		}
		return rec, err
	}

	notify := func(err error, wait time.Duration) {
		if r.Logger != nil {
			r.Logger.WarnContext(ctx, "rate store query failed, retrying",
				"category", category, "wait", wait, "error", err)
		}
	}

	return backoff.RetryNotifyWithData(op, r.policy(ctx), notify)
}

func (r *RetryingStore) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		exp.InitialInterval = r.InitialInterval
	}
	if r.MaxElapsed > 0 {
		exp.MaxElapsedTime = r.MaxElapsed
	}
	var b backoff.BackOff = exp
	if r.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, r.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}
