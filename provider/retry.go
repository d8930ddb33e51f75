package provider

import (
	"context"
	"log"
	"time"
)

const (
	defaultMaxAttempts = 6
	backoffBase        = 2 * time.Second
)

// retryProvider wraps a Provider and retries Chat with exponential backoff.
// Every oracle call in the system goes through this wrapper; the coordinator
// above it never sees intermediate failures.
type retryProvider struct {
	Provider
	attempts int
	sleep    func(time.Duration)
	logger   *log.Logger
}

// WithRetry returns a Provider that retries failed Chat calls up to attempts
// times, waiting 2^n seconds between tries. attempts <= 0 selects the
// default of 6.
func WithRetry(p Provider, attempts int, logger *log.Logger) Provider {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PROVIDER] ", log.LstdFlags)
	}
	return &retryProvider{Provider: p, attempts: attempts, sleep: time.Sleep, logger: logger}
}

func (r *retryProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, Usage, error) {
	var (
		text  string
		usage Usage
		err   error
	)
	for i := 0; i < r.attempts; i++ {
		text, usage, err = r.Provider.Chat(ctx, messages, opts)
		if err == nil {
			return text, usage, nil
		}
		if ctx.Err() != nil {
			return "", Usage{}, ctx.Err()
		}
		if i < r.attempts-1 {
			wait := backoffBase << i
			r.logger.Printf("retrying %s (%d/%d), wait for %s: %v", r.ModelName(), i+1, r.attempts, wait, err)
			r.sleep(wait)
		}
	}
	return "", Usage{}, err
}
