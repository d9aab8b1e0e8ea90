package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"testnerd/internal/index"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Options holds matching thresholds. Zero values are replaced by defaults.
type Options struct {
	// TopK candidates retrieved per requirement.
	TopK int
	// ValidateTop of those are shown to the validator.
	ValidateTop int
	// PartialScoreThreshold: above this retrieval score a failed validation
	// degrades to a partial match instead of not_found.
	PartialScoreThreshold float64
	// LinkScoreThreshold: minimum retrieval score to link a test ID in a
	// degraded match.
	LinkScoreThreshold float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		TopK:                  5,
		ValidateTop:           3,
		PartialScoreThreshold: 0.5,
		LinkScoreThreshold:    0.3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.ValidateTop <= 0 {
		o.ValidateTop = d.ValidateTop
	}
	if o.ValidateTop > o.TopK {
		o.ValidateTop = o.TopK
	}
	if o.PartialScoreThreshold == 0 {
		o.PartialScoreThreshold = d.PartialScoreThreshold
	}
	if o.LinkScoreThreshold == 0 {
		o.LinkScoreThreshold = d.LinkScoreThreshold
	}
	return o
}

// Matcher resolves ideal verification requirements to existing tests.
type Matcher struct {
	index     index.TextIndex
	validator SemanticValidator
	opts      Options
}

// New creates a Matcher over a built index.
func New(idx index.TextIndex, validator SemanticValidator, opts Options) *Matcher {
	return &Matcher{
		index:     idx,
		validator: validator,
		opts:      opts.withDefaults(),
	}
}

// MatchAll matches every ideal verification of the source test, in order.
// One result is produced per requirement; requirements never fail the whole
// call, they degrade to not_found matches.
func (m *Matcher) MatchAll(ctx context.Context, source types.TestCase) ([]types.VerificationMatch, error) {
	matches := make([]types.VerificationMatch, 0, len(source.IdealVerifications))
	for _, ideal := range source.IdealVerifications {
		match, err := m.Match(ctx, source, ideal)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Match resolves one ideal verification requirement. The returned match
// always carries the requirement's strategy fields so the plan builder can
// compile it without the original ideal. Only context cancellation is a
// hard error.
func (m *Matcher) Match(ctx context.Context, source types.TestCase, ideal types.IdealVerification) (types.VerificationMatch, error) {
	match := baseMatch(ideal)

	query := buildQuery(ideal)
	hits, err := m.index.Search(ctx, query, m.opts.TopK, ideal.TargetModule)
	if err != nil {
		return match, fmt.Errorf("candidate search failed: %w", err)
	}

	// The source test cannot verify its own side effects.
	filtered := hits[:0]
	for _, h := range hits {
		if h.Test.ID != source.ID {
			filtered = append(filtered, h)
		}
	}
	hits = filtered

	if len(hits) == 0 {
		logging.Matcher("No candidates for requirement %q (module=%q)", ideal.Description, ideal.TargetModule)
		match.Status = types.MatchNotFound
		match.Reason = fmt.Sprintf("No test cases found for module '%s'", ideal.TargetModule)
		match.SuggestedManualStep = manualStep(ideal)
		return match, nil
	}

	candidates := hits
	if len(candidates) > m.opts.ValidateTop {
		candidates = candidates[:m.opts.ValidateTop]
	}

	verdict, err := m.validator.Validate(ctx, Request{SourceTest: source, Ideal: ideal}, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return match, ctx.Err()
		}
		if errors.Is(err, ErrInvalidMatchReference) {
			// The model named a test we never offered. Its judgment cannot
			// be trusted, so record no match at all rather than guessing.
			logging.MatcherWarn("Rejecting fabricated match for %q: %v", ideal.Description, err)
			match.Status = types.MatchNotFound
			match.Reason = "Validator referenced a test outside the candidate set"
			match.SuggestedManualStep = manualStep(ideal)
			return match, nil
		}
		return m.degradedMatch(match, ideal, hits[0], err), nil
	}

	match.Status = verdict.Status
	match.Confidence = verdict.Confidence
	match.ExecutionNote = verdict.ExecutionNote
	match.Reason = verdict.Reason
	match.SuggestedManualStep = verdict.SuggestedManualStep

	if verdict.TestID != "" && verdict.Status != types.MatchNotFound {
		for _, c := range candidates {
			if c.Test.ID == verdict.TestID {
				match.MatchedTestID = c.Test.ID
				match.MatchedTestTitle = c.Test.Title
				// A zero confidence with a real match means the model
				// skipped the field; fall back to the retrieval score.
				if match.Confidence == 0 {
					match.Confidence = c.Score
				}
				break
			}
		}
	}

	// A positive status is only as good as its linked test. If the verdict
	// named nothing, or nothing we offered, downgrade rather than report a
	// found match with no test behind it.
	if match.Status != types.MatchNotFound && match.MatchedTestID == "" {
		logging.MatcherWarn("Verdict for %q has status %s but no linked test, downgrading to not_found",
			ideal.Description, match.Status)
		match.Status = types.MatchNotFound
		match.Confidence = 0
		if match.Reason == "" {
			match.Reason = "Validator reported a match without naming a candidate test"
		}
	}

	if match.Status == types.MatchNotFound && match.SuggestedManualStep == "" {
		match.SuggestedManualStep = manualStep(ideal)
	}

	logging.MatcherDebug("Matched %q -> %s (status=%s, confidence=%.2f)",
		ideal.Description, match.MatchedTestID, match.Status, match.Confidence)
	return match, nil
}

// degradedMatch builds a similarity-only match when the validator failed or
// returned garbage. Retrieval score stands in for judgment.
func (m *Matcher) degradedMatch(match types.VerificationMatch, ideal types.IdealVerification, best index.Hit, cause error) types.VerificationMatch {
	logging.MatcherWarn("Validator unavailable for %q, using similarity fallback: %v", ideal.Description, cause)

	if best.Score > m.opts.PartialScoreThreshold {
		match.Status = types.MatchPartial
	} else {
		match.Status = types.MatchNotFound
	}
	match.Confidence = best.Score
	match.Reason = fmt.Sprintf("Semantic validation unavailable, using similarity score %.2f", best.Score)

	if best.Score > m.opts.LinkScoreThreshold {
		match.MatchedTestID = best.Test.ID
		match.MatchedTestTitle = best.Test.Title
		match.ExecutionNote = fmt.Sprintf("Execute %s to verify", best.Test.ID)
	}
	if match.Status == types.MatchNotFound {
		match.SuggestedManualStep = manualStep(ideal)
	}
	return match
}

// baseMatch seeds a match with the requirement's descriptive and strategy
// fields.
func baseMatch(ideal types.IdealVerification) types.VerificationMatch {
	return types.VerificationMatch{
		IdealDescription:         ideal.Description,
		TargetModule:             ideal.TargetModule,
		VerificationAction:       ideal.VerificationAction,
		ExpectedChange:           ideal.ExpectedChange,
		Status:                   types.MatchNotFound,
		ExecutionStrategy:        ideal.Strategy(),
		BeforeAction:             ideal.BeforeAction,
		AfterAction:              ideal.AfterAction,
		RequiresDifferentSession: ideal.RequiresDifferentSession,
		SessionNote:              ideal.SessionNote,
	}
}

func buildQuery(ideal types.IdealVerification) string {
	parts := []string{ideal.Description, ideal.VerificationAction, ideal.TargetModule, ideal.ExpectedChange}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func manualStep(ideal types.IdealVerification) string {
	return fmt.Sprintf("Manual verification: %s. Expected: %s", ideal.VerificationAction, ideal.ExpectedChange)
}
