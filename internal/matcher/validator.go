// Package matcher matches ideal verification requirements against a corpus
// of existing test cases. Retrieval narrows the corpus to a few candidates;
// a semantic validator (normally an LLM) judges whether any candidate truly
// verifies the requirement.
package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"testnerd/internal/index"
	"testnerd/internal/llm"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// ErrInvalidVerdict is returned when the validator's response violates the
// verdict schema (bad status, out-of-range confidence, malformed JSON).
var ErrInvalidVerdict = errors.New("invalid verdict")

// ErrInvalidMatchReference is returned when the validator names a test that
// was not among the offered candidates. Callers must treat this as no match,
// never trust the fabricated reference.
var ErrInvalidMatchReference = errors.New("verdict references a test outside the candidate set")

// Request is the matching context handed to the validator: the test whose
// side effects need verification, and one of its ideal requirements.
type Request struct {
	SourceTest types.TestCase
	Ideal      types.IdealVerification
}

// Verdict is the validator's judgment of the best candidate.
type Verdict struct {
	TestID              string            `json:"test_id"`
	Status              types.MatchStatus `json:"status"`
	Confidence          float64           `json:"confidence"`
	ExecutionNote       string            `json:"execution_note"`
	Reason              string            `json:"reason"`
	SuggestedManualStep string            `json:"suggested_manual_step"`
}

// SemanticValidator judges candidate tests against a verification
// requirement.
type SemanticValidator interface {
	Validate(ctx context.Context, req Request, candidates []index.Hit) (*Verdict, error)
}

// =============================================================================
// LLM VALIDATOR
// =============================================================================

// LLMValidator implements SemanticValidator with an LLM judgment call.
type LLMValidator struct {
	client llm.LLMClient
}

// NewLLMValidator creates a validator backed by the given client.
func NewLLMValidator(client llm.LLMClient) *LLMValidator {
	return &LLMValidator{client: client}
}

const validatorSystemPrompt = `You are a QA verification analyst. A test case has just mutated application state. You are given one verification requirement and a short list of existing test cases that might satisfy it.

Decide whether any candidate test, executed after the state-mutating test, would verify the required change.

## Status Definitions
- "found": the candidate fully verifies the expected change
- "partial": the candidate verifies some of it, or needs adaptation
- "not_found": no candidate is suitable (set test_id to "")

## Response Format (JSON only, no markdown)
{
  "best_match": {
    "test_id": "ID of the best candidate, or empty string",
    "status": "found" | "partial" | "not_found",
    "confidence": 0.0-1.0,
    "execution_note": "how to use the matched test, or empty",
    "reason": "why this verdict",
    "suggested_manual_step": "manual check to perform when not_found, else empty"
  }
}

CRITICAL: test_id MUST be one of the candidate IDs or the empty string. Never invent an ID.
Only return the JSON object, no other text.`

// Validate asks the LLM to judge the candidates. The returned verdict is
// schema-validated; any violation yields an error and no verdict.
func (v *LLMValidator) Validate(ctx context.Context, req Request, candidates []index.Hit) (*Verdict, error) {
	if v.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to validate")
	}

	timer := logging.StartTimer(logging.CategoryMatcher, "validator call")
	defer timer.Stop()

	userPrompt := buildValidatorPrompt(req, candidates)

	response, err := v.client.CompleteWithSystem(ctx, validatorSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("validator LLM call failed: %w", err)
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		logging.MatcherWarn("Verdict parse failed: %v", err)
		return nil, err
	}

	if err := checkVerdict(verdict, candidates); err != nil {
		logging.MatcherWarn("Verdict rejected: %v", err)
		return nil, err
	}
	return verdict, nil
}

func buildValidatorPrompt(req Request, candidates []index.Hit) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## State-Mutating Test\n%s (%s)\nModule: %s\nExpected result: %s\n\n",
		req.SourceTest.Title, req.SourceTest.ID, req.SourceTest.ModuleTitle, req.SourceTest.ExpectedResult)

	ideal := req.Ideal
	fmt.Fprintf(&b, "## Verification Requirement\nDescription: %s\nTarget module: %s\nVerification action: %s\nExpected change: %s\n",
		ideal.Description, ideal.TargetModule, ideal.VerificationAction, ideal.ExpectedChange)

	switch ideal.Strategy() {
	case types.StrategyBeforeAfter:
		b.WriteString("Execution strategy: before_after. The matched test runs BEFORE the action to record a baseline and again AFTER to compare. A test that merely observes or displays the relevant state is a full match.\n")
	default:
		b.WriteString("Execution strategy: after_only. The matched test must confirm the outcome on its own from the post-action state.\n")
	}
	if ideal.RequiresDifferentSession {
		note := ideal.SessionNote
		if note == "" {
			note = "verification must happen in a different user session"
		}
		fmt.Fprintf(&b, "Session constraint: %s\n", note)
	}

	b.WriteString("\n## Candidate Tests\n")
	for i, c := range candidates {
		tc := c.Test
		steps := tc.Steps
		if len(steps) > 5 {
			steps = steps[:5]
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n   Module: %s\n   Steps: %s\n   Expected result: %s\n   Retrieval score: %.3f\n",
			i+1, tc.ID, tc.Title, tc.ModuleTitle, strings.Join(steps, " -> "), tc.ExpectedResult, c.Score)
	}

	b.WriteString("\nJudge the candidates and return the JSON verdict.")
	return b.String()
}

// parseVerdict extracts the verdict from the LLM response, tolerating
// markdown code fences.
func parseVerdict(response string) (*Verdict, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var wire struct {
		BestMatch *Verdict `json:"best_match"`
	}
	if err := json.Unmarshal([]byte(response), &wire); err != nil {
		return nil, fmt.Errorf("%w: failed to parse verdict JSON: %v", ErrInvalidVerdict, err)
	}
	if wire.BestMatch == nil {
		return nil, fmt.Errorf("%w: missing best_match", ErrInvalidVerdict)
	}
	return wire.BestMatch, nil
}

// checkVerdict enforces the verdict schema against the offered candidates.
func checkVerdict(v *Verdict, candidates []index.Hit) error {
	if !v.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidVerdict, v.Status)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidVerdict, v.Confidence)
	}
	if v.TestID == "" {
		// A positive verdict must name the test it is about; only not_found
		// may leave the reference empty.
		if v.Status != types.MatchNotFound {
			return fmt.Errorf("%w: status %q without a test_id", ErrInvalidVerdict, v.Status)
		}
		return nil
	}
	for _, c := range candidates {
		if c.Test.ID == v.TestID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidMatchReference, v.TestID)
}
