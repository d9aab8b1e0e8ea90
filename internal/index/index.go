// Package index builds searchable indexes over a test case corpus.
//
// Two strategies are provided behind one interface: an embedding index that
// scores by cosine similarity over normalized vectors, and a lexical index
// that scores by Jaccard word overlap. Build probes the embedding engine and
// silently falls back to lexical when embeddings are unavailable, so callers
// never branch on which strategy is live.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"testnerd/internal/embedding"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Hit is one retrieval result: a corpus test and its similarity score.
// Scores are comparable only within a single index strategy.
type Hit struct {
	Test  types.TestCase
	Score float64
}

// TextIndex retrieves corpus tests similar to a free-text query.
type TextIndex interface {
	// Search returns up to topK hits ordered by descending score. When
	// moduleFilter is non-empty, only tests whose module title contains
	// the filter (case-insensitive) are returned.
	Search(ctx context.Context, query string, topK int, moduleFilter string) ([]Hit, error)

	// Strategy names the live search strategy ("embedding" or "lexical").
	Strategy() string
}

// SearchText builds the retrieval representation of a test case: title,
// module, workflow, expected result, and the first few steps.
func SearchText(tc types.TestCase) string {
	parts := []string{tc.Title, tc.ModuleTitle, tc.Workflow, tc.ExpectedResult}
	steps := tc.Steps
	if len(steps) > 5 {
		steps = steps[:5]
	}
	parts = append(parts, steps...)

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// Build creates an index over the corpus. When engine is nil or the corpus
// cannot be embedded, a lexical index is returned instead.
func Build(ctx context.Context, corpus []types.TestCase, engine embedding.Engine) (TextIndex, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "index build")
	defer timer.StopWithInfo()

	if len(corpus) == 0 {
		return nil, fmt.Errorf("cannot build index over empty corpus")
	}

	texts := make([]string, len(corpus))
	for i, tc := range corpus {
		texts[i] = SearchText(tc)
	}

	lexical := newLexicalIndex(corpus, texts)

	if engine == nil {
		logging.Index("No embedding engine configured, using lexical index for %d tests", len(corpus))
		return lexical, nil
	}

	vectors, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		logging.IndexWarn("Embedding corpus failed (%v), falling back to lexical index", err)
		return lexical, nil
	}
	if len(vectors) != len(corpus) {
		logging.IndexWarn("Embedding count mismatch (%d vectors for %d tests), falling back to lexical index",
			len(vectors), len(corpus))
		return lexical, nil
	}

	for i, v := range vectors {
		vectors[i] = embedding.Normalize(v)
	}

	logging.Index("Built embedding index over %d tests with %s", len(corpus), engine.Name())
	return &embeddingIndex{
		corpus:   corpus,
		vectors:  vectors,
		engine:   engine,
		fallback: lexical,
	}, nil
}

func moduleMatches(moduleTitle, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(moduleTitle), strings.ToLower(filter))
}

// =============================================================================
// EMBEDDING INDEX
// =============================================================================

// embeddingIndex holds normalized corpus vectors and scores queries by inner
// product (equal to cosine similarity on unit vectors). After a query-time
// embedding failure it permanently degrades to its lexical fallback.
type embeddingIndex struct {
	corpus  []types.TestCase
	vectors [][]float32
	engine  embedding.Engine

	mu       sync.Mutex
	degraded bool
	fallback *lexicalIndex
}

func (idx *embeddingIndex) Strategy() string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.degraded {
		return "lexical"
	}
	return "embedding"
}

func (idx *embeddingIndex) Search(ctx context.Context, query string, topK int, moduleFilter string) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	idx.mu.Lock()
	degraded := idx.degraded
	idx.mu.Unlock()
	if degraded {
		return idx.fallback.Search(ctx, query, topK, moduleFilter)
	}

	qvec, err := idx.engine.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The engine was healthy at build time but is failing now.
		// Degrade once and stay lexical for the rest of the run.
		logging.IndexWarn("Query embedding failed (%v), degrading to lexical search", err)
		idx.mu.Lock()
		idx.degraded = true
		idx.mu.Unlock()
		return idx.fallback.Search(ctx, query, topK, moduleFilter)
	}
	qvec = embedding.Normalize(qvec)

	type scored struct {
		i     int
		score float64
	}
	all := make([]scored, 0, len(idx.corpus))
	for i, vec := range idx.vectors {
		score, err := embedding.Dot(qvec, vec)
		if err != nil {
			continue
		}
		all = append(all, scored{i: i, score: score})
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].score > all[b].score })

	// Over-fetch before the module filter so a narrow module still fills
	// the result set from a wider similarity window.
	window := topK * 3
	if window > len(all) {
		window = len(all)
	}

	hits := make([]Hit, 0, topK)
	for _, s := range all[:window] {
		tc := idx.corpus[s.i]
		if !moduleMatches(tc.ModuleTitle, moduleFilter) {
			continue
		}
		hits = append(hits, Hit{Test: tc, Score: s.score})
		if len(hits) == topK {
			break
		}
	}

	logging.IndexDebug("Embedding search returned %d/%d hits (filter=%q)", len(hits), topK, moduleFilter)
	return hits, nil
}

// =============================================================================
// LEXICAL INDEX
// =============================================================================

// lexicalIndex scores by Jaccard similarity over lowercase word sets. It is
// the always-available fallback and never returns zero-score hits.
type lexicalIndex struct {
	corpus []types.TestCase
	words  []map[string]struct{}
}

func newLexicalIndex(corpus []types.TestCase, texts []string) *lexicalIndex {
	words := make([]map[string]struct{}, len(texts))
	for i, text := range texts {
		words[i] = wordSet(text)
	}
	return &lexicalIndex{corpus: corpus, words: words}
}

func (idx *lexicalIndex) Strategy() string { return "lexical" }

func (idx *lexicalIndex) Search(ctx context.Context, query string, topK int, moduleFilter string) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	qwords := wordSet(query)

	hits := make([]Hit, 0, len(idx.corpus))
	for i, tc := range idx.corpus {
		if !moduleMatches(tc.ModuleTitle, moduleFilter) {
			continue
		}
		score := jaccard(qwords, idx.words[i])
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Test: tc, Score: score})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if len(hits) > topK {
		hits = hits[:topK]
	}
	logging.IndexDebug("Lexical search returned %d/%d hits (filter=%q)", len(hits), topK, moduleFilter)
	return hits, nil
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard returns intersection size over union size, or 0 when either set
// is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
