// Package providers implements the LLM provider adapters behind the router:
// OpenAI, Anthropic, Google Gemini, and OpenRouter. Each adapter translates
// the uniform request shape into the provider's native API, retries transient
// failures with exponential backoff, and normalizes tool calls and usage
// counts on the way back.
package providers

import (
	"context"

	"github.com/nousworks/nous/internal/backoff"
	"github.com/nousworks/nous/internal/llm"
)

// maxAttempts bounds the adapter-internal retries on transient errors.
const maxAttempts = 3

// sleepBackoff is swapped in tests to observe the retry schedule.
var sleepBackoff = backoff.Sleep

// completeWithRetry runs fn up to maxAttempts times, backing off between
// transient failures. Permanent errors and context cancellation return
// immediately.
func completeWithRetry(ctx context.Context, provider llm.ProviderID, fn func() (*llm.Response, error)) (*llm.Response, error) {
	policy := backoff.ProviderPolicy()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			// Attempt numbers for the backoff schedule are 1-based, so
			// the first retry waits Initial and the second waits double.
			if err := sleepBackoff(ctx, policy, attempt); err != nil {
				return nil, err
			}
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = llm.Classify(provider, err)
		if !llm.IsTransient(lastErr) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}
