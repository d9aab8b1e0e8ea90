// Package coverage grades how well matched verifications cover a test's
// ideal requirements and extracts the remaining gaps.
package coverage

import (
	"fmt"
	"math"

	"testnerd/internal/types"
)

// Status weights: a full match counts whole, a partial match counts half,
// not_found counts nothing.
const (
	weightFound   = 1.0
	weightPartial = 0.5
)

// Band maps a minimum coverage ratio to a level.
type Band struct {
	AtLeast float64
	Level   types.Coverage
}

// Table is an ordered set of bands, evaluated top-down; the first band whose
// threshold the ratio meets wins. Tables must be sorted by descending
// AtLeast and end in a zero band.
type Table []Band

// Graded is the four-level classification used for per-test coverage.
var Graded = Table{
	{AtLeast: 1.0, Level: types.CoverageFull},
	{AtLeast: 0.5, Level: types.CoveragePartial},
	{AtLeast: math.SmallestNonzeroFloat64, Level: types.CoverageMinimal},
	{AtLeast: 0, Level: types.CoverageNone},
}

// Boolean is the three-level classification: full only when everything is
// found, partial when anything helped at all.
var Boolean = Table{
	{AtLeast: 1.0, Level: types.CoverageFull},
	{AtLeast: math.SmallestNonzeroFloat64, Level: types.CoveragePartial},
	{AtLeast: 0, Level: types.CoverageNone},
}

// Classify maps a coverage ratio to a level using the table.
func (t Table) Classify(ratio float64) types.Coverage {
	for _, band := range t {
		if ratio >= band.AtLeast {
			return band.Level
		}
	}
	return types.CoverageNone
}

// Ratio computes the weighted coverage ratio of the matches. With no
// requirements there is nothing to cover and the ratio is 0.
func Ratio(matches []types.VerificationMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	var covered float64
	for _, m := range matches {
		switch m.Status {
		case types.MatchFound:
			covered += weightFound
		case types.MatchPartial:
			covered += weightPartial
		}
	}
	return covered / float64(len(matches))
}

// Grade computes the graded coverage level for a set of matches.
func Grade(matches []types.VerificationMatch) types.Coverage {
	return Graded.Classify(Ratio(matches))
}

// GradeBoolean computes the boolean-style level: full only when every match
// is found, partial when any match is found or partial, else none. Expressed
// through the same ratio so both forms share one code path.
func GradeBoolean(matches []types.VerificationMatch) types.Coverage {
	if len(matches) == 0 {
		return types.CoverageNone
	}
	allFound := true
	anyHit := false
	for _, m := range matches {
		switch m.Status {
		case types.MatchFound:
			anyHit = true
		case types.MatchPartial:
			anyHit = true
			allFound = false
		default:
			allFound = false
		}
	}
	switch {
	case allFound:
		return Boolean.Classify(1.0)
	case anyHit:
		return Boolean.Classify(math.SmallestNonzeroFloat64)
	default:
		return Boolean.Classify(0)
	}
}

// Gaps lists the requirements that are not fully covered, bounded by maxGaps
// (0 means unbounded). Partial matches count as gaps too since part of the
// requirement remains unverified. Duplicate descriptions are collapsed.
func Gaps(matches []types.VerificationMatch, maxGaps int) []string {
	seen := make(map[string]struct{})
	var gaps []string
	for _, m := range matches {
		if m.Status == types.MatchFound {
			continue
		}
		gap := m.IdealDescription
		if m.Reason != "" {
			gap = fmt.Sprintf("%s (%s)", m.IdealDescription, m.Reason)
		}
		if _, dup := seen[gap]; dup {
			continue
		}
		seen[gap] = struct{}{}
		gaps = append(gaps, gap)
		if maxGaps > 0 && len(gaps) == maxGaps {
			break
		}
	}
	return gaps
}
