// Package types defines the shared domain model for test verification
// planning: QA test cases, ideal verification requirements, semantic match
// results, and compiled execution sequences.
//
// The JSON tags mirror the wire format produced by the test-case authoring
// tools, so documents round-trip without a translation layer.
package types

// MatchStatus classifies how well an existing test case covers an ideal
// verification requirement.
type MatchStatus string

const (
	MatchFound    MatchStatus = "found"     // Existing test fully verifies the requirement
	MatchPartial  MatchStatus = "partial"   // Existing test verifies part of the requirement
	MatchNotFound MatchStatus = "not_found" // No suitable existing test
)

// Valid reports whether s is one of the three recognized match statuses.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchFound, MatchPartial, MatchNotFound:
		return true
	}
	return false
}

// ExecutionStrategy describes when a verification must run relative to the
// state-mutating action it guards.
type ExecutionStrategy string

const (
	// StrategyBeforeAfter captures a baseline before the action and compares
	// against it afterwards. Needed when the post-state alone is ambiguous.
	StrategyBeforeAfter ExecutionStrategy = "before_after"
	// StrategyAfterOnly confirms the outcome from the post-state alone.
	StrategyAfterOnly ExecutionStrategy = "after_only"
)

// Coverage grades how much of a test's ideal verification set is covered by
// existing tests.
type Coverage string

const (
	CoverageNone    Coverage = "none"
	CoverageMinimal Coverage = "minimal"
	CoveragePartial Coverage = "partial"
	CoverageFull    Coverage = "full"
)

// Phase tags each execution step with its role in the verification sequence.
type Phase string

const (
	PhasePreVerify  Phase = "pre_verify"  // Baseline capture before the action
	PhaseNavigate   Phase = "navigate"    // Move to another module
	PhaseSession    Phase = "session"     // Switch user/session context
	PhaseAction     Phase = "action"      // The state-mutating test itself
	PhasePostVerify Phase = "post_verify" // Outcome confirmation after the action
)

// StepAction names the operation an execution step performs.
type StepAction string

const (
	ActionExecuteTest        StepAction = "execute_test"
	ActionExecuteTestPartial StepAction = "execute_test_partial"
	ActionNavigate           StepAction = "navigate"
	ActionSessionSwitch      StepAction = "session_switch"
)

// ============================================================================
// INPUT DOCUMENTS
// ============================================================================

// TestCase is a QA test case from the corpus. Test cases double as both the
// searchable corpus and the subjects whose side effects need verification.
type TestCase struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	ModuleID       string   `json:"module_id,omitempty"`
	ModuleTitle    string   `json:"module_title"`
	Workflow       string   `json:"workflow,omitempty"`
	TestType       string   `json:"test_type,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Preconditions  []string `json:"preconditions,omitempty"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`

	// State interaction metadata from the authoring analysis.
	ReadsState  []string `json:"reads_state,omitempty"`
	WritesState []string `json:"writes_state,omitempty"`

	// ModifiesState marks tests whose side effects warrant verification
	// planning. Tests without it are corpus-only.
	ModifiesState         bool                `json:"modifies_state,omitempty"`
	NeedsPostVerification bool                `json:"needs_post_verification,omitempty"`
	IdealVerifications    []IdealVerification `json:"ideal_verifications,omitempty"`

	// Outputs attached by the planning pipeline.
	PostVerifications    []VerificationMatch `json:"post_verifications,omitempty"`
	VerificationCoverage Coverage            `json:"verification_coverage,omitempty"`
	CoverageGaps         []string            `json:"coverage_gaps,omitempty"`
	ExecutionSequence    *ExecutionSequence  `json:"execution_sequence,omitempty"`
}

// IdealVerification is one verification requirement for a state-mutating
// test: what should be checked, where, and when.
type IdealVerification struct {
	Description        string            `json:"description"`
	TargetModule       string            `json:"target_module"`
	VerificationAction string            `json:"verification_action"`
	ExpectedChange     string            `json:"expected_change"`
	StateToVerify      string            `json:"state_to_verify,omitempty"`
	ExecutionStrategy  ExecutionStrategy `json:"execution_strategy,omitempty"`
	BeforeAction       string            `json:"before_action,omitempty"`
	AfterAction        string            `json:"after_action,omitempty"`

	RequiresDifferentSession bool   `json:"requires_different_session,omitempty"`
	SessionNote              string `json:"session_note,omitempty"`
}

// Strategy returns the execution strategy, defaulting to after_only when the
// authoring tool left it unset.
func (v IdealVerification) Strategy() ExecutionStrategy {
	if v.ExecutionStrategy == StrategyBeforeAfter {
		return StrategyBeforeAfter
	}
	return StrategyAfterOnly
}

// ============================================================================
// MATCH RESULTS
// ============================================================================

// VerificationMatch records the outcome of matching one ideal verification
// against the corpus. MatchedTestID is the sole link to the matched test;
// MatchedTestTitle is display-only and never used for lookups.
type VerificationMatch struct {
	IdealDescription    string      `json:"ideal_description"`
	TargetModule        string      `json:"target_module"`
	VerificationAction  string      `json:"verification_action,omitempty"`
	ExpectedChange      string      `json:"expected_change,omitempty"`
	Status              MatchStatus `json:"status"`
	MatchedTestID       string      `json:"matched_test_id,omitempty"`
	MatchedTestTitle    string      `json:"matched_test_title,omitempty"`
	Confidence          float64     `json:"confidence"`
	ExecutionNote       string      `json:"execution_note,omitempty"`
	Reason              string      `json:"reason,omitempty"`
	SuggestedManualStep string      `json:"suggested_manual_step,omitempty"`

	// Strategy fields carried through from the ideal so the plan builder
	// does not need the original requirement.
	ExecutionStrategy        ExecutionStrategy `json:"execution_strategy,omitempty"`
	BeforeAction             string            `json:"before_action,omitempty"`
	AfterAction              string            `json:"after_action,omitempty"`
	RequiresDifferentSession bool              `json:"requires_different_session,omitempty"`
	SessionNote              string            `json:"session_note,omitempty"`
}

// ============================================================================
// EXECUTION PLANS
// ============================================================================

// ExecutionStep is one numbered step in a compiled execution sequence. Step
// numbers are assigned once, after assembly, and are contiguous from 1.
type ExecutionStep struct {
	Step       int        `json:"step"`
	Phase      Phase      `json:"phase"`
	Action     StepAction `json:"action"`
	TestID     string     `json:"test_id,omitempty"`
	TestTitle  string     `json:"test_title,omitempty"`
	Purpose    string     `json:"purpose"`
	Note       string     `json:"note,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Limitation string     `json:"limitation,omitempty"`
}

// ManualStep is a verification that could not be automated and must be
// performed by a human tester.
type ManualStep struct {
	Purpose       string            `json:"purpose"`
	SuggestedStep string            `json:"suggested_step"`
	Reason        string            `json:"reason,omitempty"`
	Strategy      ExecutionStrategy `json:"strategy,omitempty"`
}

// ExecutionSequence is a complete ordered plan for one state-mutating test:
// pre-verification baselines, the action itself, then post-verifications.
type ExecutionSequence struct {
	SourceTestID    string          `json:"source_test_id"`
	SourceTestTitle string          `json:"source_test_title"`
	SourceModule    string          `json:"source_module"`
	Steps           []ExecutionStep `json:"steps"`
	ManualSteps     []ManualStep    `json:"manual_steps,omitempty"`
	Coverage        Coverage        `json:"coverage"`
	HasBeforeAfter  bool            `json:"has_before_after"`
	Notes           string          `json:"notes,omitempty"`
}

// AutomatedStepCount returns the number of steps that execute an existing
// test (fully or partially).
func (s *ExecutionSequence) AutomatedStepCount() int {
	n := 0
	for _, st := range s.Steps {
		if st.Action == ActionExecuteTest || st.Action == ActionExecuteTestPartial {
			n++
		}
	}
	return n
}
