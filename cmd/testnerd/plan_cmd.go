package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"testnerd/internal/config"
	"testnerd/internal/embedding"
	"testnerd/internal/llm"
	"testnerd/internal/logging"
	"testnerd/internal/matcher"
	"testnerd/internal/pipeline"
	"testnerd/internal/planner"
	"testnerd/internal/report"
	"testnerd/internal/store"
	"testnerd/internal/types"
)

var (
	planInput         string
	planVerifications string
	planOutDir        string
	planMarkdown      bool
)

// document is the test-case file format produced by the authoring tools.
// A bare JSON array of test cases is also accepted.
type document struct {
	ProjectName string           `json:"project_name,omitempty"`
	BaseURL     string           `json:"base_url,omitempty"`
	GeneratedAt string           `json:"generated_at,omitempty"`
	TestCases   []types.TestCase `json:"test_cases"`
}

// planOutput is the document written after a run, with planning results
// attached and the compiled sequences keyed by source test ID.
type planOutput struct {
	document
	RunID          string                              `json:"run_id"`
	Strategy       string                              `json:"strategy"`
	ExecutionPlans map[string]*types.ExecutionSequence `json:"execution_plans,omitempty"`
	Summary        planner.Summary                     `json:"summary"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Match verification requirements and compile execution sequences",
	Long: `Plan reads a test-case JSON document, matches every state-mutating test's
verification requirements against the corpus, grades coverage, and writes
the enriched document plus per-test execution plans.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planInput, "input", "i", "", "Input test-case JSON file (required)")
	planCmd.Flags().StringVar(&planVerifications, "verifications", "", "Optional JSON map of test ID to verification requirements")
	planCmd.Flags().StringVarP(&planOutDir, "out", "o", "out", "Output directory")
	planCmd.Flags().BoolVar(&planMarkdown, "markdown", false, "Also render a markdown report")
	_ = planCmd.MarkFlagRequired("input")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	doc, err := loadDocument(planInput)
	if err != nil {
		return err
	}
	logging.Boot("Loaded %d test cases from %s", len(doc.TestCases), planInput)

	if planVerifications != "" {
		if err := mergeVerifications(doc.TestCases, planVerifications); err != nil {
			return err
		}
	}

	engine := buildEngine(cfg)
	validator, err := buildValidator(cfg)
	if err != nil {
		return err
	}

	var db *store.Store
	if cfg.Store.Enabled {
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer db.Close()
	}

	runner := pipeline.NewRunner(engine, validator, db, pipeline.Options{
		Matching: matcher.Options{
			TopK:                  cfg.Matching.TopK,
			ValidateTop:           cfg.Matching.ValidateTop,
			PartialScoreThreshold: cfg.Matching.PartialScoreThreshold,
			LinkScoreThreshold:    cfg.Matching.LinkScoreThreshold,
		},
		MaxGaps:     cfg.Matching.MaxGaps,
		Parallelism: cfg.Matching.Parallelism,
	})

	result, err := runner.Run(ctx, doc.TestCases)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(planOutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out := planOutput{
		document: document{
			ProjectName: doc.ProjectName,
			BaseURL:     doc.BaseURL,
			GeneratedAt: time.Now().Format(time.RFC3339),
			TestCases:   result.Tests,
		},
		RunID:          result.RunID,
		Strategy:       result.Strategy,
		ExecutionPlans: make(map[string]*types.ExecutionSequence, len(result.Sequences)),
		Summary:        result.Summary,
	}
	for _, seq := range result.Sequences {
		out.ExecutionPlans[seq.SourceTestID] = seq
	}

	jsonPath := filepath.Join(planOutDir, "verification-plan.json")
	if err := writeJSON(jsonPath, out); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (run %s, %d plans, strategy=%s)\n",
		jsonPath, result.RunID, len(result.Sequences), result.Strategy)

	if planMarkdown {
		md := report.Render(report.Options{
			Title: reportTitle(doc.ProjectName),
			RunID: result.RunID,
		}, result.Tests, result.Summary)
		mdPath := filepath.Join(planOutDir, "verification-plan.md")
		if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
			return fmt.Errorf("failed to write markdown: %w", err)
		}
		fmt.Printf("Wrote %s\n", mdPath)
	}

	return nil
}

// buildEngine returns nil when no embedding provider is usable; the index
// then falls back to lexical retrieval.
func buildEngine(cfg *config.Config) embedding.Engine {
	ec := embedding.DefaultConfig()
	switch cfg.Embedding.Provider {
	case "genai":
		if cfg.Embedding.APIKey == "" {
			logging.Boot("No embedding API key configured, using lexical retrieval")
			return nil
		}
		ec.Provider = "genai"
		ec.GenAIAPIKey = cfg.Embedding.APIKey
		if cfg.Embedding.Model != "" {
			ec.GenAIModel = cfg.Embedding.Model
		}
	case "ollama":
		ec.Provider = "ollama"
		if cfg.Embedding.BaseURL != "" {
			ec.OllamaEndpoint = cfg.Embedding.BaseURL
		}
		if cfg.Embedding.Model != "" {
			ec.OllamaModel = cfg.Embedding.Model
		}
	default:
		logging.Boot("Embedding provider %q not configured, using lexical retrieval", cfg.Embedding.Provider)
		return nil
	}

	engine, err := embedding.NewEngine(ec)
	if err != nil {
		logging.BootError("Embedding engine unavailable, using lexical retrieval: %v", err)
		return nil
	}
	return engine
}

func buildValidator(cfg *config.Config) (matcher.SemanticValidator, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no LLM API key configured (set llm.api_key or GEMINI_API_KEY)")
	}

	limiter := llm.NewRateLimiter(cfg.GetMinCallInterval())
	client, err := llm.NewClient(llm.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.GetLLMTimeout(),
		MaxRetries: cfg.LLM.MaxRetries,
	}, limiter)
	if err != nil {
		return nil, err
	}
	return matcher.NewLLMValidator(client), nil
}

// mergeVerifications attaches externally supplied requirements to their
// source tests. A requirement for an unknown test ID is a hard input error.
func mergeVerifications(tests []types.TestCase, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var byTest map[string][]types.IdealVerification
	if err := json.Unmarshal(data, &byTest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	byID := make(map[string]int, len(tests))
	for i, tc := range tests {
		byID[tc.ID] = i
	}

	for testID, ideals := range byTest {
		i, ok := byID[testID]
		if !ok {
			return fmt.Errorf("verification requirements reference unknown test %q", testID)
		}
		tests[i].IdealVerifications = append(tests[i].IdealVerifications, ideals...)
		tests[i].NeedsPostVerification = true
	}
	return nil
}

// loadDocument reads either a wrapped document or a bare test-case array.
func loadDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.TestCases) > 0 {
		return &doc, nil
	}

	var cases []types.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &document{TestCases: cases}, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func reportTitle(project string) string {
	if project == "" {
		return "Verification Plan"
	}
	return project + " Verification Plan"
}
