// Package retry implements the bounded retry policy applied to ledger page
// and transaction fetches. A failed operation is retried a fixed number of
// times with exponential backoff and then skipped; skipping is safe because
// the sync watermark is recomputed from store aggregates, so anything missed
// is picked up on a later cycle.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Operation is a fallible unit of work.
type Operation func() error

// Strategy executes operations under some retry policy.
type Strategy interface {
	Execute(ctx context.Context, op Operation) error
	Name() string
}

// Backoff retries recoverable failures up to MaxAttempts with exponentially
// growing delays capped at MaxDelay.
type Backoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// NewBackoff returns a Backoff strategy with sane lower bounds applied.
func NewBackoff(maxAttempts int, initial, max time.Duration) *Backoff {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &Backoff{MaxAttempts: maxAttempts, InitialDelay: initial, MaxDelay: max}
}

func (b *Backoff) Name() string { return "backoff" }

// Execute runs op until it succeeds, fails unrecoverably, or exhausts
// MaxAttempts.
func (b *Backoff) Execute(ctx context.Context, op Operation) error {
	var lastErr error
	delay := b.InitialDelay

	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				slog.Info("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !Recoverable(err) {
			return err
		}
		if attempt == b.MaxAttempts {
			break
		}

		slog.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", b.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
			if delay > b.MaxDelay {
				delay = b.MaxDelay
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", b.MaxAttempts, lastErr)
}

// None performs a single attempt with no retry.
type None struct{}

func (None) Name() string { return "none" }

func (None) Execute(ctx context.Context, op Operation) error { return op() }

// Recoverable classifies an error as a transient network failure worth
// retrying.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection reset by peer",
		"connection refused",
		"connection timed out",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"i/o timeout",
		"eof",
		"no such host",
		"dial tcp",
		"status 429",
		"status 5", // any 5xx: the gateway may serve the page on a later attempt
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
