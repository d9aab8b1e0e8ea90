package coverage

import (
	"testing"

	"testnerd/internal/types"
)

func matchesOf(statuses ...types.MatchStatus) []types.VerificationMatch {
	out := make([]types.VerificationMatch, len(statuses))
	for i, s := range statuses {
		out[i] = types.VerificationMatch{
			IdealDescription: string(rune('A' + i)),
			Status:           s,
		}
	}
	return out
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.MatchStatus
		want     float64
	}{
		{"empty", nil, 0},
		{"all found", []types.MatchStatus{types.MatchFound, types.MatchFound}, 1.0},
		{"half weight partial", []types.MatchStatus{types.MatchPartial, types.MatchPartial}, 0.5},
		{"mixed", []types.MatchStatus{types.MatchFound, types.MatchPartial, types.MatchNotFound, types.MatchNotFound}, 0.375},
		{"none", []types.MatchStatus{types.MatchNotFound}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ratio(matchesOf(tt.statuses...)); got != tt.want {
				t.Errorf("Ratio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGrade(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.MatchStatus
		want     types.Coverage
	}{
		{"all found is full", []types.MatchStatus{types.MatchFound, types.MatchFound}, types.CoverageFull},
		{"half is partial", []types.MatchStatus{types.MatchFound, types.MatchNotFound}, types.CoveragePartial},
		{"two partials is partial", []types.MatchStatus{types.MatchPartial, types.MatchPartial}, types.CoveragePartial},
		{"one partial of two is minimal", []types.MatchStatus{types.MatchPartial, types.MatchNotFound}, types.CoverageMinimal},
		{"nothing is none", []types.MatchStatus{types.MatchNotFound, types.MatchNotFound}, types.CoverageNone},
		{"no requirements is none", nil, types.CoverageNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Grade(matchesOf(tt.statuses...)); got != tt.want {
				t.Errorf("Grade() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGradeBoolean(t *testing.T) {
	tests := []struct {
		name     string
		statuses []types.MatchStatus
		want     types.Coverage
	}{
		{"all found is full", []types.MatchStatus{types.MatchFound, types.MatchFound}, types.CoverageFull},
		{"any partial caps at partial", []types.MatchStatus{types.MatchFound, types.MatchPartial}, types.CoveragePartial},
		{"single partial is partial", []types.MatchStatus{types.MatchPartial}, types.CoveragePartial},
		{"found plus missing is partial", []types.MatchStatus{types.MatchFound, types.MatchNotFound}, types.CoveragePartial},
		{"nothing is none", []types.MatchStatus{types.MatchNotFound}, types.CoverageNone},
		{"empty is none", nil, types.CoverageNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GradeBoolean(matchesOf(tt.statuses...)); got != tt.want {
				t.Errorf("GradeBoolean() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGaps(t *testing.T) {
	matches := []types.VerificationMatch{
		{IdealDescription: "check A", Status: types.MatchNotFound, Reason: "no tests in module"},
		{IdealDescription: "check B", Status: types.MatchFound},
		{IdealDescription: "check A", Status: types.MatchNotFound, Reason: "no tests in module"},
		{IdealDescription: "check C", Status: types.MatchNotFound},
	}

	gaps := Gaps(matches, 0)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 deduped gaps, got %d: %v", len(gaps), gaps)
	}
	if gaps[0] != "check A (no tests in module)" {
		t.Errorf("unexpected first gap: %q", gaps[0])
	}
	if gaps[1] != "check C" {
		t.Errorf("unexpected second gap: %q", gaps[1])
	}
}

func TestGapsIncludePartialMatches(t *testing.T) {
	matches := []types.VerificationMatch{
		{IdealDescription: "check A", Status: types.MatchPartial, Reason: "only covers the list view"},
		{IdealDescription: "check B", Status: types.MatchNotFound, Reason: "no tests in module"},
		{IdealDescription: "check C", Status: types.MatchFound},
	}

	gaps := Gaps(matches, 10)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d: %v", len(gaps), gaps)
	}
	if gaps[0] != "check A (only covers the list view)" {
		t.Errorf("partial match missing from gaps: %q", gaps[0])
	}
	if gaps[1] != "check B (no tests in module)" {
		t.Errorf("unexpected second gap: %q", gaps[1])
	}
}

func TestGapsBound(t *testing.T) {
	matches := matchesOf(types.MatchNotFound, types.MatchNotFound, types.MatchNotFound)
	gaps := Gaps(matches, 2)
	if len(gaps) != 2 {
		t.Errorf("expected gaps bounded at 2, got %d", len(gaps))
	}
}
