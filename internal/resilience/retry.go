// Package resilience wraps the ffmpeg/ffprobe-backed collaborators
// (fingerprinting, watermarking, metadata stamping) with bounded retry,
// so a transient subprocess failure (the encoder binary briefly
// unavailable, a momentarily locked scratch file) does not fail an
// ingest outright.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes one retry schedule: up to MaxAttempts tries,
// exponential backoff starting at BaseDelay and capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPolicy builds a Policy from the resilience config values. A
// MaxAttempts of 0 disables retry: Do runs the operation exactly once.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// Do runs op, retrying on error per the policy. ctx cancellation aborts
// the retry loop early. A returned error is the last attempt's error.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 0 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))
	return err
}
