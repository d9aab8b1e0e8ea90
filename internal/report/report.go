// Package report renders planning results as human-readable markdown:
// a coverage summary, per-test verification detail, and the phase-labelled
// execution plans.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"testnerd/internal/logging"
	"testnerd/internal/planner"
	"testnerd/internal/types"
)

var phaseLabels = map[types.Phase]string{
	types.PhasePreVerify:  "PRE-VERIFY",
	types.PhaseNavigate:   "NAVIGATE",
	types.PhaseSession:    "SESSION",
	types.PhaseAction:     "ACTION",
	types.PhasePostVerify: "POST-VERIFY",
}

// Options controls report rendering.
type Options struct {
	Title       string
	RunID       string
	GeneratedAt time.Time
}

// Render produces the full markdown report for a completed run: summary,
// verification detail per state-mutating test, and execution plans.
func Render(opts Options, tests []types.TestCase, summary planner.Summary) string {
	timer := logging.StartTimer(logging.CategoryReport, "render markdown")
	defer timer.Stop()

	var b strings.Builder
	writeHeader(&b, opts)
	writeSummary(&b, summary)

	planned := make([]types.TestCase, 0, len(tests))
	for _, tc := range tests {
		if len(tc.PostVerifications) > 0 || tc.ExecutionSequence != nil {
			planned = append(planned, tc)
		}
	}
	if len(planned) == 0 {
		b.WriteString("No state-mutating tests required verification planning.\n")
		return b.String()
	}

	b.WriteString("## Verification Detail\n\n")
	b.WriteString("Tests using the **before/after** strategy run a verification test before\n")
	b.WriteString("and after the action and compare the two observations.\n\n")

	for _, tc := range planned {
		writeTestDetail(&b, tc)
	}

	logging.Report("Rendered report for %d planned tests", len(planned))
	return b.String()
}

// RenderSequences produces a plans-only report, used when rendering a stored
// run where the full test records are no longer available.
func RenderSequences(opts Options, sequences []*types.ExecutionSequence, summary planner.Summary) string {
	var b strings.Builder
	writeHeader(&b, opts)
	writeSummary(&b, summary)

	b.WriteString("## Execution Plans\n\n")
	for _, seq := range sequences {
		if seq == nil {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", seq.SourceTestID)
		writeSequence(&b, seq)
		b.WriteString("---\n\n")
	}
	return b.String()
}

func writeHeader(b *strings.Builder, opts Options) {
	title := opts.Title
	if title == "" {
		title = "Verification Plan"
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	if opts.RunID != "" {
		fmt.Fprintf(b, "**Run:** %s\n", opts.RunID)
	}
	generated := opts.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	fmt.Fprintf(b, "**Generated:** %s\n\n", generated.Format(time.RFC3339))
}

func writeSummary(b *strings.Builder, summary planner.Summary) {
	if summary.Sequences == 0 {
		return
	}
	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(b, "| Plans | %d |\n", summary.Sequences)
	fmt.Fprintf(b, "| Automated verification steps | %d |\n", summary.AutomatedSteps)
	fmt.Fprintf(b, "| Manual verification steps | %d |\n", summary.ManualSteps)
	fmt.Fprintf(b, "| Automation rate | %.0f%% |\n", summary.AutomationRate*100)
	fmt.Fprintf(b, "| Before/after plans | %d |\n", summary.BeforeAfter)
	b.WriteString("\n")

	if len(summary.Coverage) > 0 {
		b.WriteString("| Coverage | Tests |\n")
		b.WriteString("|----------|-------|\n")
		levels := make([]types.Coverage, 0, len(summary.Coverage))
		for level := range summary.Coverage {
			levels = append(levels, level)
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
		for _, level := range levels {
			fmt.Fprintf(b, "| %s | %d |\n", level, summary.Coverage[level])
		}
		b.WriteString("\n")
	}
}

func writeTestDetail(b *strings.Builder, tc types.TestCase) {
	fmt.Fprintf(b, "### %s: %s\n\n", tc.ID, escapeMD(tc.Title))
	fmt.Fprintf(b, "**Coverage:** %s\n", tc.VerificationCoverage)
	if len(tc.WritesState) > 0 {
		fmt.Fprintf(b, "**Modifies:** %s\n", strings.Join(tc.WritesState, ", "))
	}
	b.WriteString("\n")

	for i, pv := range tc.PostVerifications {
		fmt.Fprintf(b, "**%d. %s**\n\n", i+1, escapeMD(pv.IdealDescription))
		fmt.Fprintf(b, "- Status: %s\n", pv.Status)
		fmt.Fprintf(b, "- Strategy: %s\n", pv.ExecutionStrategy)
		if pv.MatchedTestID != "" {
			matched := pv.MatchedTestID
			if pv.MatchedTestTitle != "" {
				matched = fmt.Sprintf("%s (%s)", pv.MatchedTestID, escapeMD(pv.MatchedTestTitle))
			}
			fmt.Fprintf(b, "- Matched test: %s\n", matched)
			fmt.Fprintf(b, "- Confidence: %.0f%%\n", pv.Confidence*100)
		}
		if pv.ExecutionStrategy == types.StrategyBeforeAfter {
			if pv.BeforeAction != "" {
				fmt.Fprintf(b, "- Before action: %s\n", escapeMD(pv.BeforeAction))
			}
			if pv.AfterAction != "" {
				fmt.Fprintf(b, "- After action: %s\n", escapeMD(pv.AfterAction))
			}
		}
		if pv.RequiresDifferentSession {
			note := pv.SessionNote
			if note == "" {
				note = "Different user login needed"
			}
			fmt.Fprintf(b, "- Session switch required: %s\n", escapeMD(note))
		}
		if pv.ExecutionNote != "" {
			fmt.Fprintf(b, "- Execution note: %s\n", escapeMD(pv.ExecutionNote))
		}
		if pv.Status != types.MatchFound && pv.Reason != "" {
			fmt.Fprintf(b, "- Reason: %s\n", escapeMD(pv.Reason))
		}
		if pv.SuggestedManualStep != "" {
			fmt.Fprintf(b, "- Manual step: %s\n", escapeMD(pv.SuggestedManualStep))
		}
		b.WriteString("\n")
	}

	if len(tc.CoverageGaps) > 0 {
		b.WriteString("**Coverage gaps:**\n")
		for _, gap := range tc.CoverageGaps {
			fmt.Fprintf(b, "- %s\n", escapeMD(gap))
		}
		b.WriteString("\n")
	}

	if tc.ExecutionSequence != nil {
		b.WriteString("#### Execution Plan\n\n")
		writeSequence(b, tc.ExecutionSequence)
	}

	b.WriteString("---\n\n")
}

func writeSequence(b *strings.Builder, seq *types.ExecutionSequence) {
	if seq.HasBeforeAfter {
		b.WriteString("> Run verification tests before and after the action and compare values.\n\n")
	}

	for _, step := range seq.Steps {
		label := phaseLabels[step.Phase]
		if label == "" {
			label = strings.ToUpper(string(step.Phase))
		}
		if step.TestID != "" {
			fmt.Fprintf(b, "**%d. [%s] %s** - %s\n", step.Step, label, step.TestID, escapeMD(step.TestTitle))
		} else {
			fmt.Fprintf(b, "**%d. [%s]** %s\n", step.Step, label, escapeMD(step.Purpose))
		}
		switch {
		case step.Note != "":
			fmt.Fprintf(b, "   > %s\n", escapeMD(step.Note))
		case step.Purpose != "" && step.TestID != "":
			fmt.Fprintf(b, "   > %s\n", escapeMD(step.Purpose))
		}
		if step.Limitation != "" {
			fmt.Fprintf(b, "   > Limitation: %s\n", escapeMD(step.Limitation))
		}
		b.WriteString("\n")
	}

	if seq.Notes != "" {
		fmt.Fprintf(b, "**Notes:** %s\n\n", escapeMD(seq.Notes))
	}

	if len(seq.ManualSteps) > 0 {
		b.WriteString("**Manual verification required:**\n")
		for _, ms := range seq.ManualSteps {
			fmt.Fprintf(b, "- %s\n", escapeMD(ms.Purpose))
			if ms.SuggestedStep != "" {
				fmt.Fprintf(b, "  - Suggested: %s\n", escapeMD(ms.SuggestedStep))
			}
		}
		b.WriteString("\n")
	}
}

// escapeMD keeps user-supplied text from breaking table and list formatting.
func escapeMD(text string) string {
	text = strings.ReplaceAll(text, "\n", "<br>")
	return strings.ReplaceAll(text, "|", "\\|")
}
