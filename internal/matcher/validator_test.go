package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"testnerd/internal/index"
	"testnerd/internal/types"
)

// stubClient returns a canned LLM response.
type stubClient struct {
	response string
	err      error
	lastUser string
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.lastUser = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func validateReq() Request {
	return Request{
		SourceTest: sourceTest(),
		Ideal:      sampleIdeal(),
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		wantID   string
	}{
		{
			name:     "plain json",
			response: `{"best_match": {"test_id": "TC-1", "status": "found", "confidence": 0.9}}`,
			wantID:   "TC-1",
		},
		{
			name:     "fenced json",
			response: "```json\n{\"best_match\": {\"test_id\": \"TC-2\", \"status\": \"partial\", \"confidence\": 0.5}}\n```",
			wantID:   "TC-2",
		},
		{
			name:     "bare fence",
			response: "```\n{\"best_match\": {\"test_id\": \"\", \"status\": \"not_found\", \"confidence\": 0}}\n```",
			wantID:   "",
		},
		{
			name:     "not json",
			response: "I think TC-1 is the best match.",
			wantErr:  true,
		},
		{
			name:     "missing best_match",
			response: `{"verdict": "found"}`,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := parseVerdict(tt.response)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVerdict error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && v.TestID != tt.wantID {
				t.Errorf("expected test_id %q, got %q", tt.wantID, v.TestID)
			}
		})
	}
}

func TestCheckVerdict(t *testing.T) {
	candidates := []index.Hit{hit("TC-1", "A", 0.9), hit("TC-2", "B", 0.8)}

	tests := []struct {
		name    string
		verdict Verdict
		wantErr error
	}{
		{"valid found", Verdict{TestID: "TC-1", Status: types.MatchFound, Confidence: 0.9}, nil},
		{"valid empty id", Verdict{TestID: "", Status: types.MatchNotFound, Confidence: 0}, nil},
		{"found without id", Verdict{TestID: "", Status: types.MatchFound, Confidence: 0.9}, ErrInvalidVerdict},
		{"partial without id", Verdict{TestID: "", Status: types.MatchPartial, Confidence: 0.5}, ErrInvalidVerdict},
		{"bad status", Verdict{TestID: "TC-1", Status: "maybe", Confidence: 0.5}, ErrInvalidVerdict},
		{"confidence too high", Verdict{TestID: "TC-1", Status: types.MatchFound, Confidence: 1.5}, ErrInvalidVerdict},
		{"negative confidence", Verdict{TestID: "TC-1", Status: types.MatchFound, Confidence: -0.1}, ErrInvalidVerdict},
		{"unknown id", Verdict{TestID: "TC-999", Status: types.MatchFound, Confidence: 0.9}, ErrInvalidMatchReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVerdict(&tt.verdict, candidates)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLLMValidatorValidate(t *testing.T) {
	client := &stubClient{
		response: `{"best_match": {"test_id": "TC-1", "status": "found", "confidence": 0.9, "reason": "checks the list"}}`,
	}
	v := NewLLMValidator(client)

	verdict, err := v.Validate(context.Background(), validateReq(), []index.Hit{hit("TC-1", "A", 0.9)})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if verdict.TestID != "TC-1" || verdict.Status != types.MatchFound {
		t.Errorf("unexpected verdict: %+v", verdict)
	}
}

func TestLLMValidatorRejectsFabricatedID(t *testing.T) {
	client := &stubClient{
		response: `{"best_match": {"test_id": "TC-999", "status": "found", "confidence": 0.9}}`,
	}
	v := NewLLMValidator(client)

	_, err := v.Validate(context.Background(), validateReq(), []index.Hit{hit("TC-1", "A", 0.9)})
	if !errors.Is(err, ErrInvalidMatchReference) {
		t.Errorf("expected ErrInvalidMatchReference, got %v", err)
	}
}

func TestLLMValidatorClientError(t *testing.T) {
	v := NewLLMValidator(&stubClient{err: fmt.Errorf("boom")})
	if _, err := v.Validate(context.Background(), validateReq(), []index.Hit{hit("TC-1", "A", 0.9)}); err == nil {
		t.Error("expected error from failing client")
	}
}

func TestBuildValidatorPromptIncludesStrategy(t *testing.T) {
	req := validateReq()
	req.Ideal.ExecutionStrategy = types.StrategyBeforeAfter
	req.Ideal.RequiresDifferentSession = true
	req.Ideal.SessionNote = "check as the recipient"

	prompt := buildValidatorPrompt(req, []index.Hit{hit("TC-1", "A", 0.9)})

	if !strings.Contains(prompt, "before_after") {
		t.Error("prompt missing before_after strategy guidance")
	}
	if !strings.Contains(prompt, "check as the recipient") {
		t.Error("prompt missing session note")
	}
	if !strings.Contains(prompt, "[TC-1]") {
		t.Error("prompt missing candidate listing")
	}
}
