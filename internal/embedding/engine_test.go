package embedding

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	if math.Abs(mag-1.0) > 1e-6 {
		t.Errorf("expected unit magnitude, got %v", mag)
	}

	zero := Normalize([]float32{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Errorf("zero vector should stay zero, got %v", zero)
		}
	}
}

func TestDot(t *testing.T) {
	got, err := Dot([]float32{1, 2, 3}, []float32{4, 5, 6})
	if err != nil {
		t.Fatalf("Dot failed: %v", err)
	}
	if got != 32 {
		t.Errorf("expected 32, got %v", got)
	}

	if _, err := Dot([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected error on dimension mismatch")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected error on dimension mismatch")
	}
}

// Dot on normalized vectors must equal full cosine similarity.
func TestNormalizedDotMatchesCosine(t *testing.T) {
	a := []float32{0.2, 0.9, -0.4, 0.1}
	b := []float32{-0.5, 0.3, 0.8, 0.2}

	cos, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	dot, err := Dot(Normalize(a), Normalize(b))
	if err != nil {
		t.Fatalf("Dot failed: %v", err)
	}
	if math.Abs(cos-dot) > 1e-5 {
		t.Errorf("normalized dot %v != cosine %v", dot, cos)
	}
}

func TestNewEngineUnsupportedProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "mystery"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewGenAIEngineRequiresKey(t *testing.T) {
	if _, err := NewGenAIEngine("", "", ""); err == nil {
		t.Error("expected error when API key missing")
	}
}
