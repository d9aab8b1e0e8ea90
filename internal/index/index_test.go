package index

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"testnerd/internal/types"
)

// stubEngine returns deterministic vectors keyed by known phrases so tests
// can control similarity ordering without a live embedding service.
type stubEngine struct {
	vectors   map[string][]float32
	dims      int
	failBatch bool
	failEmbed bool
	embeds    int
}

func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	s.embeds++
	if s.failEmbed {
		return nil, fmt.Errorf("stub embed failure")
	}
	for key, vec := range s.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return make([]float32, s.dims), nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.failBatch {
		return nil, fmt.Errorf("stub batch failure")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return s.dims }
func (s *stubEngine) Name() string    { return "stub" }

func sampleCorpus() []types.TestCase {
	return []types.TestCase{
		{
			ID:             "TC-001",
			Title:          "Verify user list shows new account",
			ModuleTitle:    "User Management",
			ExpectedResult: "New account appears in the user list",
			Steps:          []string{"Open user management", "Check the user list"},
		},
		{
			ID:             "TC-002",
			Title:          "Verify audit log records account creation",
			ModuleTitle:    "Audit Log",
			ExpectedResult: "Audit log contains a creation entry",
			Steps:          []string{"Open audit log", "Filter by account events"},
		},
		{
			ID:             "TC-003",
			Title:          "Create a new user account",
			ModuleTitle:    "User Management",
			ExpectedResult: "Account is created",
			Steps:          []string{"Open user management", "Click create", "Fill the form"},
		},
	}
}

func TestSearchText(t *testing.T) {
	tc := types.TestCase{
		Title:          "A title",
		ModuleTitle:    "A module",
		Workflow:       "main flow",
		ExpectedResult: "it works",
		Steps:          []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"},
	}
	text := SearchText(tc)

	if !strings.Contains(text, "A title") || !strings.Contains(text, "A module") {
		t.Errorf("search text missing title or module: %q", text)
	}
	if !strings.Contains(text, "s5") {
		t.Errorf("search text should include the fifth step: %q", text)
	}
	if strings.Contains(text, "s6") {
		t.Errorf("search text should cap steps at five: %q", text)
	}
}

func TestBuildEmptyCorpus(t *testing.T) {
	if _, err := Build(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for empty corpus")
	}
}

func TestBuildWithoutEngineUsesLexical(t *testing.T) {
	idx, err := Build(context.Background(), sampleCorpus(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Strategy() != "lexical" {
		t.Errorf("expected lexical strategy, got %s", idx.Strategy())
	}
}

func TestBuildEngineFailureFallsBackToLexical(t *testing.T) {
	engine := &stubEngine{dims: 4, failBatch: true}
	idx, err := Build(context.Background(), sampleCorpus(), engine)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Strategy() != "lexical" {
		t.Errorf("expected lexical fallback, got %s", idx.Strategy())
	}
}

func TestLexicalSearch(t *testing.T) {
	idx, err := Build(context.Background(), sampleCorpus(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hits, err := idx.Search(context.Background(), "verify user list account", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	if hits[0].Test.ID != "TC-001" {
		t.Errorf("expected TC-001 first, got %s", hits[0].Test.ID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted descending at %d", i)
		}
	}
	for _, h := range hits {
		if h.Score <= 0 {
			t.Errorf("lexical search returned zero-score hit %s", h.Test.ID)
		}
	}
}

func TestLexicalSearchModuleFilter(t *testing.T) {
	idx, err := Build(context.Background(), sampleCorpus(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hits, err := idx.Search(context.Background(), "verify account creation entry", 5, "audit")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, h := range hits {
		if h.Test.ModuleTitle != "Audit Log" {
			t.Errorf("module filter leaked test from %s", h.Test.ModuleTitle)
		}
	}
}

func TestLexicalSearchNoOverlap(t *testing.T) {
	idx, err := Build(context.Background(), sampleCorpus(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hits, err := idx.Search(context.Background(), "zzz qqq xxx", 5, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for disjoint query, got %d", len(hits))
	}
}

func TestEmbeddingSearch(t *testing.T) {
	engine := &stubEngine{
		dims: 3,
		vectors: map[string][]float32{
			"user list":   {1, 0, 0},
			"audit log":   {0, 1, 0},
			"Create a":    {0, 0, 1},
			"which users": {0.9, 0.1, 0},
		},
	}
	idx, err := Build(context.Background(), sampleCorpus(), engine)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Strategy() != "embedding" {
		t.Fatalf("expected embedding strategy, got %s", idx.Strategy())
	}

	hits, err := idx.Search(context.Background(), "which users exist", 2, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Test.ID != "TC-001" {
		t.Errorf("expected TC-001 first, got %s", hits[0].Test.ID)
	}
}

func TestEmbeddingSearchModuleFilter(t *testing.T) {
	engine := &stubEngine{
		dims: 3,
		vectors: map[string][]float32{
			"user list":   {1, 0, 0},
			"audit log":   {0, 1, 0},
			"Create a":    {0, 0, 1},
			"which users": {0.9, 0.1, 0},
		},
	}
	idx, err := Build(context.Background(), sampleCorpus(), engine)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hits, err := idx.Search(context.Background(), "which users exist", 5, "audit")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, h := range hits {
		if h.Test.ModuleTitle != "Audit Log" {
			t.Errorf("module filter leaked test from %s", h.Test.ModuleTitle)
		}
	}
}

// A query-time embedding failure must degrade the index to lexical search
// permanently, without surfacing an error.
func TestEmbeddingSearchDegradesOnQueryFailure(t *testing.T) {
	engine := &stubEngine{
		dims: 3,
		vectors: map[string][]float32{
			"user list": {1, 0, 0},
		},
	}
	idx, err := Build(context.Background(), sampleCorpus(), engine)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	engine.failEmbed = true
	hits, err := idx.Search(context.Background(), "verify user list account", 5, "")
	if err != nil {
		t.Fatalf("Search should fall back, got error: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected lexical fallback hits")
	}
	if idx.Strategy() != "lexical" {
		t.Errorf("expected degraded strategy lexical, got %s", idx.Strategy())
	}

	// Subsequent searches stay lexical and never touch the engine again.
	before := engine.embeds
	if _, err := idx.Search(context.Background(), "audit log entry", 5, ""); err != nil {
		t.Fatalf("degraded search failed: %v", err)
	}
	if engine.embeds != before {
		t.Error("degraded index should not call the embedding engine")
	}
}

func TestJaccard(t *testing.T) {
	a := wordSet("alpha beta gamma")
	b := wordSet("beta gamma delta")
	got := jaccard(a, b)
	want := 2.0 / 4.0
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}

	if jaccard(a, wordSet("")) != 0 {
		t.Error("empty set should score 0")
	}
}
