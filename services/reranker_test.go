package services

import (
	"math"
	"testing"
)

func TestSimpleRerankerPrefersOverlap(t *testing.T) {
	r := &SimpleReranker{}

	candidates := []RerankCandidate{
		{ID: "off-topic", Content: "Our office is open on weekdays for visits.", Score: 0.8},
		{ID: "on-topic", Content: "The refund policy gives you thirty days to request a refund.", Score: 0.5},
	}

	out := r.Rerank(t.Context(), "refund policy days", candidates, 2)
	if out[0].ID != "on-topic" {
		t.Errorf("expected on-topic first, got %q", out[0].ID)
	}
}

func TestSimpleRerankerExactPhraseBonus(t *testing.T) {
	r := &SimpleReranker{}
	terms := contentTerms("refund policy")

	withPhrase := r.lexicalScore(terms, "refund policy", "our refund policy is simple")
	withoutPhrase := r.lexicalScore(terms, "refund policy", "policy details: a refund may apply later in this paragraph")
	if withPhrase <= withoutPhrase {
		t.Errorf("exact phrase should score higher: %v vs %v", withPhrase, withoutPhrase)
	}
}

func TestSimpleRerankerRespectsTopK(t *testing.T) {
	r := &SimpleReranker{}
	candidates := make([]RerankCandidate, 8)
	for i := range candidates {
		candidates[i] = RerankCandidate{ID: string(rune('a' + i)), Content: "text"}
	}
	out := r.Rerank(t.Context(), "query", candidates, 3)
	if len(out) != 3 {
		t.Errorf("got %d results, want 3", len(out))
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"8", 0.8},
		{"7.5", 0.75},
		{" 9 ", 0.9},
		{"The relevance is 6 out of 10", 0.6},
		{"10", 1.0},
		{"15", 1.0},       // clamped
		{"garbage", 0.5},  // default
		{"", 0.5},
	}
	for _, tt := range tests {
		if got := parseGrade(tt.raw); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseGrade(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestLLMRerankerWithoutClientFallsBack(t *testing.T) {
	r := &LLMReranker{model: "test"}

	candidates := []RerankCandidate{
		{ID: "a", Content: "alpha", Score: 0.9},
		{ID: "b", Content: "beta", Score: 0.2},
	}
	out := r.Rerank(t.Context(), "q", candidates, 2)

	// all grades default to 0.5, so original score decides the order
	if out[0].ID != "a" {
		t.Errorf("expected original score to break ties, got %q first", out[0].ID)
	}
	for _, c := range out {
		if c.RerankScore != 0.5 {
			t.Errorf("grade without client = %v, want 0.5", c.RerankScore)
		}
	}
}

func TestNewRerankerFactory(t *testing.T) {
	if _, ok := NewReranker("simple", nil, "").(*SimpleReranker); !ok {
		t.Error("simple type should build SimpleReranker")
	}
	if _, ok := NewReranker("llm", nil, "m").(*LLMReranker); !ok {
		t.Error("llm type should build LLMReranker")
	}
	if _, ok := NewReranker("hybrid", nil, "m").(*HybridReranker); !ok {
		t.Error("hybrid type should build HybridReranker")
	}
	if _, ok := NewReranker("bogus", nil, "").(*SimpleReranker); !ok {
		t.Error("unknown type should fall back to SimpleReranker")
	}
}
