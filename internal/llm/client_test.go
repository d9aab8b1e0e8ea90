package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterSpacesRequests(t *testing.T) {
	limiter := NewRateLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)
	// Three departures need at least two full intervals between them.
	if elapsed < 100*time.Millisecond {
		t.Errorf("expected at least 100ms for 3 requests, got %v", elapsed)
	}
}

func TestRateLimiterConcurrentSerialization(t *testing.T) {
	limiter := NewRateLimiter(20 * time.Millisecond)
	ctx := context.Background()

	var mu sync.Mutex
	var departures []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				t.Errorf("Wait failed: %v", err)
				return
			}
			mu.Lock()
			departures = append(departures, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(departures); i++ {
		gap := departures[i].Sub(departures[i-1])
		if gap < 0 {
			gap = -gap
		}
		// Generous slack: timestamps are taken after the limiter releases.
		if gap < 10*time.Millisecond {
			t.Errorf("departures %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	limiter := NewRateLimiter(time.Hour)
	ctx := context.Background()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(cancelled); err == nil {
		t.Error("expected context error from second Wait")
	}
}

func TestRateLimiterNilIsNoOp(t *testing.T) {
	var limiter *RateLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter should be a no-op, got %v", err)
	}
}

func TestNewClientUnsupportedProvider(t *testing.T) {
	if _, err := NewClient(Config{Provider: "mystery"}, nil); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestOpenAIClientCompleteWithSystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	}, NewRateLimiter(0))

	got, err := client.CompleteWithSystem(context.Background(), "be terse", "hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected 'ok', got %q", got)
	}
}

func TestOpenAIClientRetriesOn429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "recovered"}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 2,
	}, NewRateLimiter(0))

	got, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "recovered" {
		t.Errorf("expected 'recovered', got %q", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestGeminiClientRequiresAPIKey(t *testing.T) {
	client := NewGeminiClient(Config{}, nil)
	if _, err := client.Complete(context.Background(), "hello"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestGeminiClientCompleteWithSystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.SystemInstruction == nil {
			t.Error("expected systemInstruction to be set")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "gemini says hi"}},
				}},
			},
		})
	}))
	defer server.Close()

	client := NewGeminiClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	}, NewRateLimiter(0))

	got, err := client.CompleteWithSystem(context.Background(), "be terse", "hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if got != "gemini says hi" {
		t.Errorf("unexpected response %q", got)
	}
}
