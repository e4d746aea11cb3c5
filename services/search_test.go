package services

import (
	"testing"

	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/models"
)

func mkCandidate(id, content string, cosine float64, chunkIndex int) scoredChunk {
	return scoredChunk{
		match:      VectorMatch{ChunkID: id, Content: content},
		cosine:     cosine,
		combined:   cosine,
		chunkIndex: chunkIndex,
	}
}

func TestApplyBM25BoostsTermMatches(t *testing.T) {
	candidates := []scoredChunk{
		mkCandidate("a", "the weather today is sunny with light clouds", 0.80, 0),
		mkCandidate("b", "refund policy: a refund is issued within thirty days of purchase", 0.78, 1),
	}

	applyBM25(candidates, []string{"refund", "policy"}, 0.3)

	if candidates[1].bm25 != 1.0 {
		t.Errorf("best lexical match should normalize to 1.0, got %v", candidates[1].bm25)
	}
	if candidates[0].bm25 != 0 {
		t.Errorf("no-match candidate bm25 = %v, want 0", candidates[0].bm25)
	}
	// blended: b = 0.7*0.78 + 0.3*1.0 = 0.846 > a = 0.7*0.80 = 0.56
	if candidates[1].combined <= candidates[0].combined {
		t.Errorf("lexical match should now outrank: %v vs %v", candidates[1].combined, candidates[0].combined)
	}
}

func TestApplyBM25NoTermsNoChange(t *testing.T) {
	candidates := []scoredChunk{mkCandidate("a", "text body here", 0.5, 0)}
	applyBM25(candidates, []string{"zebra"}, 0.3)
	if candidates[0].combined != 0.5 {
		t.Errorf("combined changed without matches: %v", candidates[0].combined)
	}
}

func TestApplyThresholdKeepsFloor(t *testing.T) {
	candidates := []scoredChunk{
		mkCandidate("a", "", 0.25, 0),
		mkCandidate("b", "", 0.20, 1),
		mkCandidate("c", "", 0.15, 2),
		mkCandidate("d", "", 0.10, 3),
	}

	// nothing passes 0.3, but the best min(topK,3) survive
	out := applyThreshold(candidates, 0.3, 5)
	if len(out) != 3 {
		t.Fatalf("got %d survivors, want 3", len(out))
	}
	if out[0].match.ChunkID != "a" || out[2].match.ChunkID != "c" {
		t.Errorf("wrong survivors: %v", out)
	}

	// with topK=1 the floor is 1
	out = applyThreshold(candidates, 0.3, 1)
	if len(out) != 1 || out[0].match.ChunkID != "a" {
		t.Errorf("floor min(1,3) violated: %v", out)
	}

	// passing candidates are kept as-is
	out = applyThreshold(candidates, 0.12, 5)
	if len(out) != 3 {
		t.Errorf("got %d passing, want 3", len(out))
	}
}

func TestMMRDiversifies(t *testing.T) {
	// two near-duplicates and one distinct; MMR with topK=2 should pick
	// the duplicate once
	candidates := []scoredChunk{
		mkCandidate("dup1", "shipping rates for domestic orders are flat per package", 0.90, 0),
		mkCandidate("dup2", "shipping rates for domestic orders are flat per parcel", 0.89, 1),
		mkCandidate("other", "returns must include the original receipt and tags", 0.60, 2),
	}

	out := mmrSelect(candidates, 2, 0.7)
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if out[0].match.ChunkID != "dup1" {
		t.Errorf("top relevance must stay first, got %q", out[0].match.ChunkID)
	}
	if out[1].match.ChunkID != "other" {
		t.Errorf("expected diversity pick, got %q", out[1].match.ChunkID)
	}
}

func TestSortCandidatesTieBreak(t *testing.T) {
	candidates := []scoredChunk{
		{match: VectorMatch{ChunkID: "late"}, combined: 0.8, cosine: 0.8, bm25: 0.5, chunkIndex: 7},
		{match: VectorMatch{ChunkID: "early"}, combined: 0.8, cosine: 0.8, bm25: 0.5, chunkIndex: 2},
		{match: VectorMatch{ChunkID: "highCos"}, combined: 0.8, cosine: 0.9, bm25: 0.1, chunkIndex: 9},
	}
	sortCandidates(candidates)

	if candidates[0].match.ChunkID != "highCos" {
		t.Errorf("cosine breaks the first tie, got %q", candidates[0].match.ChunkID)
	}
	if candidates[1].match.ChunkID != "early" || candidates[2].match.ChunkID != "late" {
		t.Errorf("chunk index breaks the last tie: %q, %q",
			candidates[1].match.ChunkID, candidates[2].match.ChunkID)
	}
}

func TestResolveFeatures(t *testing.T) {
	cfg := &config.Config{
		EnableQueryExpansion: true,
		EnableBM25:           true,
		EnableMMR:            true,
	}

	f := resolveFeatures(cfg, nil)
	if !f.Expansion || !f.BM25 || f.Reranking {
		t.Errorf("defaults not honored: %+v", f)
	}

	off := false
	on := true
	f = resolveFeatures(cfg, &models.FeatureOverrides{BM25: &off, Reranking: &on})
	if f.BM25 {
		t.Error("override off ignored")
	}
	if !f.Reranking {
		t.Error("override on ignored")
	}
	if !f.Expansion {
		t.Error("untouched default lost")
	}
}

func TestClampTopK(t *testing.T) {
	if got := clampTopK(0); got != 5 {
		t.Errorf("unset top_k = %d, want default 5", got)
	}
	if got := clampTopK(50); got != 20 {
		t.Errorf("top_k ceiling = %d, want 20", got)
	}
	if got := clampTopK(-3); got != 5 {
		t.Errorf("negative top_k = %d, want default 5", got)
	}
	if got := clampTopK(7); got != 7 {
		t.Errorf("in-range top_k = %d, want 7", got)
	}
}

func TestJaccard(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"y": true, "z": true}
	if got := jaccard(a, b); got != 1.0/3.0 {
		t.Errorf("jaccard = %v, want 1/3", got)
	}
	if got := jaccard(a, map[string]bool{}); got != 0 {
		t.Errorf("jaccard with empty set = %v, want 0", got)
	}
}
