package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/logger"
)

const (
	llmRerankBatchSize  = 5
	llmRerankMaxContent = 1000
	hybridPrePassDepth  = 10
)

// RerankCandidate is a scored result passing through a reranker. Score is
// the pipeline's combined score; Final is what the reranker assigns.
type RerankCandidate struct {
	ID          string
	Content     string
	Score       float64
	RerankScore float64
	Final       float64
}

// Reranker reorders candidates by query relevance. Implementations never
// fail the request: on error they return the input order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate, topK int) []RerankCandidate
	Model() string
}

// NewReranker builds the configured variant. Unknown types fall back to
// simple.
func NewReranker(rerankerType string, gemini *ai.GeminiClient, model string) Reranker {
	switch rerankerType {
	case "llm":
		return &LLMReranker{gemini: gemini, model: model}
	case "hybrid":
		return &HybridReranker{
			simple: &SimpleReranker{},
			llm:    &LLMReranker{gemini: gemini, model: model},
		}
	default:
		return &SimpleReranker{}
	}
}

// SimpleReranker scores by lexical overlap with positional bonuses; no
// model call.
type SimpleReranker struct{}

func (r *SimpleReranker) Model() string { return "simple" }

func (r *SimpleReranker) Rerank(_ context.Context, query string, candidates []RerankCandidate, topK int) []RerankCandidate {
	queryTerms := contentTerms(query)
	queryLower := strings.ToLower(strings.TrimSpace(query))

	out := make([]RerankCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RerankScore = r.lexicalScore(queryTerms, queryLower, out[i].Content)
		out[i].Final = out[i].RerankScore + 0.4*out[i].Score
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Final > out[j].Final })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// lexicalScore = 0.4·term-overlap + exact-phrase bonus + early-match bonus.
func (r *SimpleReranker) lexicalScore(queryTerms []string, queryLower, content string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)

	matched := 0
	for _, term := range queryTerms {
		if strings.Contains(contentLower, term) {
			matched++
		}
	}
	score := 0.4 * float64(matched) / float64(len(queryTerms))

	if queryLower != "" && strings.Contains(contentLower, queryLower) {
		score += 0.2
	}

	head := contentLower
	if len(head) > 500 {
		head = head[:500]
	}
	early := 0.0
	for _, term := range queryTerms {
		if strings.Contains(head, term) {
			early += 0.05
		}
	}
	if early > 0.15 {
		early = 0.15
	}
	return score + early
}

func contentTerms(text string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?'\"()")
		if len(word) > 2 {
			terms = append(terms, word)
		}
	}
	return terms
}

// LLMReranker asks the model for a 0-10 relevance grade per candidate.
type LLMReranker struct {
	gemini *ai.GeminiClient
	model  string
}

func (r *LLMReranker) Model() string { return r.model }

var numberRegex = regexp.MustCompile(`\d+(?:\.\d+)?`)

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []RerankCandidate, topK int) []RerankCandidate {
	out := make([]RerankCandidate, len(candidates))
	copy(out, candidates)

	for start := 0; start < len(out); start += llmRerankBatchSize {
		end := start + llmRerankBatchSize
		if end > len(out) {
			end = len(out)
		}
		for i := start; i < end; i++ {
			out[i].RerankScore = r.gradeOne(ctx, query, out[i].Content)
			out[i].Final = 0.7*out[i].RerankScore + 0.3*out[i].Score
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Final > out[j].Final })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// gradeOne returns the normalized model grade, 0.5 when anything fails.
func (r *LLMReranker) gradeOne(ctx context.Context, query, content string) float64 {
	if r.gemini == nil {
		return 0.5
	}
	if len(content) > llmRerankMaxContent {
		content = content[:llmRerankMaxContent]
	}

	prompt := fmt.Sprintf(`Rate the relevance of this document to the query on a scale of 0-10. Respond with a single number.

Query: %s

Document: %s`, query, content)

	raw, err := r.gemini.GenerateText(ctx, r.model, prompt, 0.0, 8)
	if err != nil {
		logger.Warn("LLM rerank call failed", "error", err)
		return 0.5
	}
	return parseGrade(raw)
}

// parseGrade parses a 0-10 grade out of model text and normalizes to [0,1].
func parseGrade(raw string) float64 {
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		match := numberRegex.FindString(raw)
		if match == "" {
			return 0.5
		}
		value, err = strconv.ParseFloat(match, 64)
		if err != nil {
			return 0.5
		}
	}
	value /= 10
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// HybridReranker runs the lexical pre-pass, then grades the survivors with
// the LLM.
type HybridReranker struct {
	simple *SimpleReranker
	llm    *LLMReranker
}

func (r *HybridReranker) Model() string { return "hybrid:" + r.llm.Model() }

func (r *HybridReranker) Rerank(ctx context.Context, query string, candidates []RerankCandidate, topK int) []RerankCandidate {
	prePass := r.simple.Rerank(ctx, query, candidates, hybridPrePassDepth)
	return r.llm.Rerank(ctx, query, prePass, topK)
}
