// Package llm provides LLM clients for semantic match validation, plus the
// rate limiter they share.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds LLM client configuration.
type Config struct {
	Provider   string // "gemini" or "openai"
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates an LLM client for the configured provider. All clients
// created with the same limiter share one request pacing budget.
func NewClient(cfg Config, limiter *RateLimiter) (LLMClient, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg, limiter), nil
	case "openai":
		return NewOpenAIClient(cfg, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'gemini' or 'openai')", cfg.Provider)
	}
}

// =============================================================================
// RATE LIMITER
// =============================================================================

// RateLimiter enforces a minimum interval between requests across all
// goroutines sharing it. The mutex is held across the wait, so concurrent
// callers are serialized and each departure is spaced by at least the
// configured interval.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

// NewRateLimiter creates a limiter with the given minimum interval between
// requests. A non-positive interval disables pacing.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// Wait blocks until the caller may proceed, honoring context cancellation.
// On a nil limiter Wait is a no-op.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.minInterval <= 0 {
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.last)
	if wait := r.minInterval - elapsed; wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	r.last = time.Now()
	return nil
}
