// Package planner compiles matched verifications into ordered execution
// sequences a tester can run top to bottom.
//
// A sequence has three zones: baseline captures for before/after
// verifications, the state-mutating test itself, then post-verifications.
// Navigation and session-switch steps are woven in wherever a verification
// lives in another module or requires a different user session. Step numbers
// are assigned exactly once, after the full sequence is assembled.
package planner

import (
	"fmt"
	"strings"

	"testnerd/internal/coverage"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Builder compiles execution sequences. The corpus lookup resolves matched
// test IDs to their records; a match pointing at an unknown ID is demoted to
// a manual step rather than producing an unrunnable sequence.
type Builder struct {
	corpus map[string]types.TestCase
}

// NewBuilder creates a Builder over the corpus, keyed by test ID.
func NewBuilder(corpus []types.TestCase) *Builder {
	lookup := make(map[string]types.TestCase, len(corpus))
	for _, tc := range corpus {
		lookup[tc.ID] = tc
	}
	return &Builder{corpus: lookup}
}

// Build compiles the execution sequence for one state-mutating test from its
// verification matches. Matches are processed in requirement order.
func (b *Builder) Build(source types.TestCase, matches []types.VerificationMatch) *types.ExecutionSequence {
	timer := logging.StartTimer(logging.CategoryPlanner, "sequence build")
	defer timer.Stop()

	seq := &types.ExecutionSequence{
		SourceTestID:    source.ID,
		SourceTestTitle: source.Title,
		SourceModule:    source.ModuleTitle,
		Coverage:        coverage.Grade(matches),
	}

	var pre, post []types.ExecutionStep
	preModule := source.ModuleTitle
	postModule := source.ModuleTitle
	sessionSwitches := 0

	for _, m := range matches {
		if m.Status == types.MatchNotFound {
			seq.ManualSteps = append(seq.ManualSteps, manualStep(m))
			continue
		}

		matched, ok := b.corpus[m.MatchedTestID]
		if !ok {
			// Matched ID did not survive to the final corpus. Do not emit a
			// step no one can execute.
			logging.Get(logging.CategoryPlanner).Warn("Match for %q references missing test %q, demoting to manual",
				m.IdealDescription, m.MatchedTestID)
			demoted := m
			demoted.Reason = fmt.Sprintf("Matched test '%s' not present in corpus", m.MatchedTestID)
			seq.ManualSteps = append(seq.ManualSteps, manualStep(demoted))
			continue
		}

		action := types.ActionExecuteTest
		if m.Status == types.MatchPartial {
			action = types.ActionExecuteTestPartial
		}

		if m.ExecutionStrategy == types.StrategyBeforeAfter {
			seq.HasBeforeAfter = true

			if !sameModule(preModule, matched.ModuleTitle) {
				pre = append(pre, navigateStep(matched.ModuleTitle))
				preModule = matched.ModuleTitle
			}
			if m.RequiresDifferentSession {
				pre = append(pre, sessionStep(m))
				sessionSwitches++
			}
			pre = append(pre, baselineStep(m, matched, action))
		}

		if !sameModule(postModule, matched.ModuleTitle) {
			post = append(post, navigateStep(matched.ModuleTitle))
			postModule = matched.ModuleTitle
		}
		if m.RequiresDifferentSession {
			post = append(post, sessionStep(m))
			sessionSwitches++
		}
		post = append(post, verifyStep(m, matched, action))
	}

	// Baselines may have wandered into another module; come back before
	// running the action.
	if !sameModule(preModule, source.ModuleTitle) {
		pre = append(pre, navigateStep(source.ModuleTitle))
	}

	steps := make([]types.ExecutionStep, 0, len(pre)+1+len(post))
	steps = append(steps, pre...)
	steps = append(steps, types.ExecutionStep{
		Phase:      types.PhaseAction,
		Action:     types.ActionExecuteTest,
		TestID:     source.ID,
		TestTitle:  source.Title,
		Purpose:    "Execute the state-mutating test",
		Confidence: 1.0,
	})
	steps = append(steps, post...)

	// Single numbering pass; nothing upstream assigns step numbers.
	for i := range steps {
		steps[i].Step = i + 1
	}
	seq.Steps = steps
	seq.Notes = sequenceNotes(seq, sessionSwitches)

	logging.PlannerDebug("Built sequence for %s: %d steps, %d manual, coverage=%s",
		source.ID, len(seq.Steps), len(seq.ManualSteps), seq.Coverage)
	return seq
}

func sameModule(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func navigateStep(module string) types.ExecutionStep {
	return types.ExecutionStep{
		Phase:   types.PhaseNavigate,
		Action:  types.ActionNavigate,
		Purpose: fmt.Sprintf("Navigate to %s", module),
	}
}

func sessionStep(m types.VerificationMatch) types.ExecutionStep {
	purpose := m.SessionNote
	if purpose == "" {
		purpose = "Switch to a different user session"
	}
	return types.ExecutionStep{
		Phase:   types.PhaseSession,
		Action:  types.ActionSessionSwitch,
		Purpose: purpose,
	}
}

func baselineStep(m types.VerificationMatch, matched types.TestCase, action types.StepAction) types.ExecutionStep {
	note := m.BeforeAction
	if note == "" {
		note = "Record the observed state as the baseline"
	}
	step := types.ExecutionStep{
		Phase:      types.PhasePreVerify,
		Action:     action,
		TestID:     matched.ID,
		TestTitle:  matched.Title,
		Purpose:    fmt.Sprintf("Baseline: %s", m.IdealDescription),
		Note:       note,
		Confidence: m.Confidence,
	}
	if action == types.ActionExecuteTestPartial {
		step.Limitation = partialLimitation(m)
	}
	return step
}

func verifyStep(m types.VerificationMatch, matched types.TestCase, action types.StepAction) types.ExecutionStep {
	note := m.ExecutionNote
	if m.ExecutionStrategy == types.StrategyBeforeAfter {
		note = m.AfterAction
		if note == "" {
			note = "Compare against the baseline recorded before the action"
		}
	}
	step := types.ExecutionStep{
		Phase:      types.PhasePostVerify,
		Action:     action,
		TestID:     matched.ID,
		TestTitle:  matched.Title,
		Purpose:    fmt.Sprintf("Verify: %s", m.IdealDescription),
		Note:       note,
		Confidence: m.Confidence,
	}
	if action == types.ActionExecuteTestPartial {
		step.Limitation = partialLimitation(m)
	}
	return step
}

func partialLimitation(m types.VerificationMatch) string {
	if m.Reason != "" {
		return m.Reason
	}
	return "Covers the requirement only partially"
}

func manualStep(m types.VerificationMatch) types.ManualStep {
	suggested := m.SuggestedManualStep
	if suggested == "" {
		suggested = fmt.Sprintf("Manual verification: %s. Expected: %s", m.VerificationAction, m.ExpectedChange)
	}
	return types.ManualStep{
		Purpose:       m.IdealDescription,
		SuggestedStep: suggested,
		Reason:        m.Reason,
		Strategy:      m.ExecutionStrategy,
	}
}

func sequenceNotes(seq *types.ExecutionSequence, sessionSwitches int) string {
	var preIDs, postIDs []string
	for _, s := range seq.Steps {
		switch s.Phase {
		case types.PhasePreVerify:
			preIDs = append(preIDs, s.TestID)
		case types.PhasePostVerify:
			postIDs = append(postIDs, s.TestID)
		}
	}

	var b strings.Builder
	if len(preIDs) > 0 {
		fmt.Fprintf(&b, "Baseline: %s. ", strings.Join(preIDs, ", "))
	}
	fmt.Fprintf(&b, "Action: %s.", seq.SourceTestID)
	if len(postIDs) > 0 {
		fmt.Fprintf(&b, " Post-verify: %s.", strings.Join(postIDs, ", "))
	}
	if sessionSwitches > 0 {
		fmt.Fprintf(&b, " Requires %d session switch(es).", sessionSwitches)
	}
	if n := len(seq.ManualSteps); n > 0 {
		fmt.Fprintf(&b, " %d verification(s) remain manual.", n)
	}
	return b.String()
}

// =============================================================================
// PLAN SUMMARY
// =============================================================================

// Summary aggregates a batch of sequences for reporting.
type Summary struct {
	Sequences      int                    `json:"sequences"`
	Coverage       map[types.Coverage]int `json:"coverage"`
	AutomatedSteps int                    `json:"automated_steps"`
	ManualSteps    int                    `json:"manual_steps"`
	AutomationRate float64                `json:"automation_rate"`
	BeforeAfter    int                    `json:"before_after_sequences"`
}

// Summarize computes the batch summary: coverage distribution and the share
// of verifications that ended up automated.
func Summarize(sequences []*types.ExecutionSequence) Summary {
	s := Summary{Coverage: make(map[types.Coverage]int)}
	for _, seq := range sequences {
		if seq == nil {
			continue
		}
		s.Sequences++
		s.Coverage[seq.Coverage]++
		if seq.HasBeforeAfter {
			s.BeforeAfter++
		}
		// The action step itself is not a verification.
		s.AutomatedSteps += seq.AutomatedStepCount() - 1
		s.ManualSteps += len(seq.ManualSteps)
	}
	if total := s.AutomatedSteps + s.ManualSteps; total > 0 {
		s.AutomationRate = float64(s.AutomatedSteps) / float64(total)
	}
	return s
}
