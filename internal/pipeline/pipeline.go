// Package pipeline orchestrates a full planning run: index the corpus once,
// match every state-mutating test's verification requirements in parallel,
// grade coverage, and compile execution sequences.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"testnerd/internal/coverage"
	"testnerd/internal/embedding"
	"testnerd/internal/index"
	"testnerd/internal/logging"
	"testnerd/internal/matcher"
	"testnerd/internal/planner"
	"testnerd/internal/store"
	"testnerd/internal/types"
)

// Runner wires the planning pipeline together.
type Runner struct {
	engine    embedding.Engine // nil means lexical retrieval only
	validator matcher.SemanticValidator
	db        *store.Store // nil disables persistence and the embedding cache
	opts      Options
}

// Options tunes a planning run.
type Options struct {
	Matching    matcher.Options
	MaxGaps     int
	Parallelism int
}

// DefaultOptions returns standard pipeline tuning.
func DefaultOptions() Options {
	return Options{
		Matching:    matcher.DefaultOptions(),
		MaxGaps:     10,
		Parallelism: 4,
	}
}

// Result is the outcome of one planning run.
type Result struct {
	RunID     string                     `json:"run_id"`
	Strategy  string                     `json:"strategy"`
	Tests     []types.TestCase           `json:"tests"`
	Sequences []*types.ExecutionSequence `json:"sequences"`
	Summary   planner.Summary            `json:"summary"`
}

// NewRunner creates a Runner. engine and db may be nil.
func NewRunner(engine embedding.Engine, validator matcher.SemanticValidator, db *store.Store, opts Options) *Runner {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultOptions().Parallelism
	}
	if opts.MaxGaps <= 0 {
		opts.MaxGaps = DefaultOptions().MaxGaps
	}
	return &Runner{engine: engine, validator: validator, db: db, opts: opts}
}

// Run plans verification for every state-mutating test in the corpus.
// The returned Tests slice mirrors the input corpus order, with planning
// results attached to the flagged tests.
func (r *Runner) Run(ctx context.Context, corpus []types.TestCase) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "planning run")
	defer timer.StopWithInfo()

	if err := checkUniqueIDs(corpus); err != nil {
		return nil, err
	}

	engine := r.engine
	if engine != nil && r.db != nil {
		engine = newCachingEngine(engine, r.db)
	}

	idx, err := index.Build(ctx, corpus, engine)
	if err != nil {
		return nil, fmt.Errorf("index build failed: %w", err)
	}

	m := matcher.New(idx, r.validator, r.opts.Matching)
	builder := planner.NewBuilder(corpus)

	tests := make([]types.TestCase, len(corpus))
	copy(tests, corpus)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)

	for i := range tests {
		if !needsPlanning(tests[i]) {
			continue
		}
		i := i
		g.Go(func() error {
			planned, err := r.planOne(gctx, m, builder, tests[i])
			if err != nil {
				return fmt.Errorf("planning %s: %w", tests[i].ID, err)
			}
			tests[i] = planned
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sequences []*types.ExecutionSequence
	for _, tc := range tests {
		if tc.ExecutionSequence != nil {
			sequences = append(sequences, tc.ExecutionSequence)
		}
	}

	result := &Result{
		RunID:     uuid.NewString(),
		Strategy:  idx.Strategy(),
		Tests:     tests,
		Sequences: sequences,
		Summary:   planner.Summarize(sequences),
	}

	if r.db != nil {
		if err := r.db.SaveRun(result.RunID, result.Strategy, sequences, result.Summary); err != nil {
			// Persistence failure should not discard a finished run.
			logging.StoreError("Failed to persist run %s: %v", result.RunID, err)
		}
	}

	logging.Boot("Run %s complete: %d sequences, strategy=%s, automation rate=%.0f%%",
		result.RunID, len(sequences), result.Strategy, result.Summary.AutomationRate*100)
	return result, nil
}

// planOne matches, grades, and compiles a single flagged test.
func (r *Runner) planOne(ctx context.Context, m *matcher.Matcher, builder *planner.Builder, tc types.TestCase) (types.TestCase, error) {
	if err := ctx.Err(); err != nil {
		return tc, err
	}
	if len(tc.IdealVerifications) == 0 {
		// Nothing to verify means nothing to compile: the test is graded
		// and gapped but gets no execution sequence.
		tc.VerificationCoverage = types.CoverageNone
		tc.CoverageGaps = []string{"No verification scenarios identified"}
		return tc, nil
	}

	matches, err := m.MatchAll(ctx, tc)
	if err != nil {
		return tc, err
	}

	tc.PostVerifications = matches
	tc.VerificationCoverage = coverage.Grade(matches)
	tc.CoverageGaps = coverage.Gaps(matches, r.opts.MaxGaps)
	tc.ExecutionSequence = builder.Build(tc, matches)
	return tc, nil
}

// needsPlanning reports whether a test's side effects warrant a plan.
func needsPlanning(tc types.TestCase) bool {
	return tc.ModifiesState || tc.NeedsPostVerification
}

func checkUniqueIDs(corpus []types.TestCase) error {
	seen := make(map[string]struct{}, len(corpus))
	for _, tc := range corpus {
		if tc.ID == "" {
			return fmt.Errorf("test case %q has no ID", tc.Title)
		}
		if _, dup := seen[tc.ID]; dup {
			return fmt.Errorf("duplicate test case ID %q", tc.ID)
		}
		seen[tc.ID] = struct{}{}
	}
	return nil
}

// =============================================================================
// EMBEDDING CACHE WRAPPER
// =============================================================================

// cachingEngine checks the store before asking the wrapped engine, and
// writes fresh vectors back. Cache keys include the engine name so switching
// providers never serves stale vectors.
type cachingEngine struct {
	inner embedding.Engine
	db    *store.Store
}

func newCachingEngine(inner embedding.Engine, db *store.Store) *cachingEngine {
	return &cachingEngine{inner: inner, db: db}
}

func (c *cachingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := store.TextHash(text)
	if vec, err := c.db.CachedVector(hash, c.inner.Name()); err == nil && vec != nil {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.db.StoreVector(hash, c.inner.Name(), vec); err != nil {
		logging.StoreDebug("Embedding cache write failed: %v", err)
	}
	return vec, nil
}

func (c *cachingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		hash := store.TextHash(text)
		if vec, err := c.db.CachedVector(hash, c.inner.Name()); err == nil && vec != nil {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		fresh, err := c.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(missing) {
			return nil, fmt.Errorf("engine returned %d vectors for %d texts", len(fresh), len(missing))
		}
		for j, vec := range fresh {
			out[missingIdx[j]] = vec
			if err := c.db.StoreVector(store.TextHash(missing[j]), c.inner.Name(), vec); err != nil {
				logging.StoreDebug("Embedding cache write failed: %v", err)
			}
		}
	}

	logging.EmbeddingDebug("Embedded %d texts (%d from cache)", len(texts), len(texts)-len(missing))
	return out, nil
}

func (c *cachingEngine) Dimensions() int { return c.inner.Dimensions() }
func (c *cachingEngine) Name() string    { return c.inner.Name() }
