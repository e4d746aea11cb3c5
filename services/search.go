package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"knowledge-retrieval-service/internal/ai"
	"knowledge-retrieval-service/internal/config"
	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// searchFeatures is the per-request resolution of config defaults and
// caller overrides.
type searchFeatures struct {
	Expansion    bool
	Rewriting    bool
	BM25         bool
	IntentFilter bool
	MMR          bool
	Threshold    bool
	Reranking    bool
}

func resolveFeatures(cfg *config.Config, o *models.FeatureOverrides) searchFeatures {
	f := searchFeatures{
		Expansion:    cfg.EnableQueryExpansion,
		Rewriting:    cfg.EnableQueryRewriting,
		BM25:         cfg.EnableBM25,
		IntentFilter: cfg.EnableIntentFilter,
		MMR:          cfg.EnableMMR,
		Threshold:    cfg.EnableRelevanceThreshold,
		Reranking:    cfg.EnableReranking,
	}
	if o == nil {
		return f
	}
	if o.Expansion != nil {
		f.Expansion = *o.Expansion
	}
	if o.Rewriting != nil {
		f.Rewriting = *o.Rewriting
	}
	if o.BM25 != nil {
		f.BM25 = *o.BM25
	}
	if o.IntentFilter != nil {
		f.IntentFilter = *o.IntentFilter
	}
	if o.MMR != nil {
		f.MMR = *o.MMR
	}
	if o.Threshold != nil {
		f.Threshold = *o.Threshold
	}
	if o.Reranking != nil {
		f.Reranking = *o.Reranking
	}
	return f
}

func (f searchFeatures) applied() []string {
	var out []string
	if f.Expansion {
		out = append(out, "expansion")
	}
	if f.Rewriting {
		out = append(out, "rewriting")
	}
	if f.BM25 {
		out = append(out, "bm25")
	}
	if f.IntentFilter {
		out = append(out, "intent_filter")
	}
	if f.MMR {
		out = append(out, "mmr")
	}
	if f.Threshold {
		out = append(out, "threshold")
	}
	if f.Reranking {
		out = append(out, "reranking")
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// scoredChunk is one candidate moving through the ranking pipeline.
type scoredChunk struct {
	match      VectorMatch
	cosine     float64
	bm25       float64
	combined   float64
	intentMod  float64
	rerank     *float64
	chunkIndex int
}

// SearchService orchestrates the hybrid retrieval pipeline: exactly one
// dense search per query, then lexical, intent, diversity and rerank
// stages over the candidate set.
type SearchService struct {
	cfg        *config.Config
	gateway    *ai.EmbeddingGateway
	store      *VectorStore
	cache      *SemanticCache
	expander   *QueryExpander
	rewriter   *QueryRewriter
	enhancer   *RuleBasedQueryEnhancer
	intents    *IntentDetector
	reranker   Reranker
	imageIndex *ImageIndex
}

func NewSearchService(cfg *config.Config, gateway *ai.EmbeddingGateway, store *VectorStore, cache *SemanticCache, rewriter *QueryRewriter, reranker Reranker, imageIndex *ImageIndex) *SearchService {
	return &SearchService{
		cfg:        cfg,
		gateway:    gateway,
		store:      store,
		cache:      cache,
		expander:   NewQueryExpander(),
		rewriter:   rewriter,
		enhancer:   NewRuleBasedQueryEnhancer(),
		intents:    NewIntentDetector(),
		reranker:   reranker,
		imageIndex: imageIndex,
	}
}

// Search runs the full pipeline and always returns a structured response
// for a valid query.
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	topK := clampTopK(req.TopK)
	searchType := req.SearchType
	if searchType == "" {
		searchType = "text"
	}
	features := resolveFeatures(s.cfg, req.Features)

	resp := &models.SearchResponse{
		TextResults:    []models.SearchResult{},
		ImageResults:   []models.ImageResult{},
		ProductResults: []models.ProductResult{},
		EmbeddingModel: s.gateway.Model(),
		EnhancedSearch: models.EnhancedSearchInfo{
			OriginalQuery:   req.Query,
			FeaturesApplied: features.applied(),
		},
	}

	// 1. intent
	var intent DetectedIntent
	if features.IntentFilter {
		intent = s.intents.Detect(req.Query)
		resp.EnhancedSearch.DetectedIntent = intent.Intent
	}

	// 2. rewrite
	query := s.enhancer.Enhance(req.Query)
	if features.Rewriting && len(req.ConversationHistory) > 0 {
		rewritten := s.rewriter.Rewrite(ctx, query, req.ConversationHistory)
		if rewritten != query {
			resp.EnhancedSearch.RewrittenQuery = rewritten
			query = rewritten
		}
	}

	// 3. expansion terms, BM25 only
	var searchTerms []string
	if features.Expansion {
		searchTerms = s.expander.GetSearchTerms(query)
		resp.EnhancedSearch.SearchTerms = searchTerms
	}

	// 4. the single dense embedding for this query
	if tok, err := ai.GetTokenizer(); err == nil {
		resp.QueryTokens = tok.CountTokens(query)
	}
	queryEmbedding, err := s.gateway.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// 5. cache probe
	if searchType == "text" && s.cache.Enabled() {
		hit, err := s.cache.Get(ctx, req.KBID, query, queryEmbedding, searchType)
		if err != nil {
			logger.Warn("Cache probe failed", "kb_id", req.KBID, "error", err)
		} else if hit != nil {
			cached := hit.Results
			cached.Cached = true
			cached.CacheSimilarity = hit.Similarity
			cached.SearchTimeMs = time.Since(start).Milliseconds()
			cached.EnhancedSearch = resp.EnhancedSearch
			return &cached, nil
		}
	}

	switch searchType {
	case "product":
		products, err := s.store.SearchProducts(ctx, req.KBID, queryEmbedding, topK, req.ProductFilters)
		if err != nil {
			return nil, err
		}
		resp.ProductResults = products
		resp.TotalFound = len(products)
		resp.Returned = len(products)

	case "image":
		imgVec, err := s.gateway.EmbedForImageSpace(ctx, query)
		if err != nil {
			return nil, err
		}
		images, err := s.imageIndex.Search(ctx, req.KBID, imgVec, topK)
		if err != nil {
			return nil, err
		}
		resp.ImageResults = images
		resp.TotalFound = len(images)
		resp.Returned = len(images)

	default:
		if err := s.searchText(ctx, req.KBID, query, queryEmbedding, topK, searchTerms, intent, features, resp); err != nil {
			return nil, err
		}
	}

	resp.SearchTimeMs = time.Since(start).Milliseconds()

	// 6. cache write
	if searchType == "text" && s.cache.Enabled() && len(resp.TextResults) > 0 {
		if err := s.cache.Put(ctx, req.KBID, query, queryEmbedding, *resp, searchType); err != nil {
			logger.Warn("Cache write failed", "kb_id", req.KBID, "error", err)
		}
	}
	return resp, nil
}

func (s *SearchService) searchText(ctx context.Context, kbID, query string, queryEmbedding []float32, topK int, searchTerms []string, intent DetectedIntent, features searchFeatures, resp *models.SearchResponse) error {
	fetchK := topK
	if features.MMR || features.Reranking || features.IntentFilter {
		fetchK = topK * 3
	}

	matches, scanned, err := s.store.Search(ctx, kbID, queryEmbedding, fetchK)
	if err != nil {
		return err
	}
	resp.ChunksSearched = scanned
	resp.TotalFound = len(matches)

	candidates := make([]scoredChunk, len(matches))
	for i, match := range matches {
		candidates[i] = scoredChunk{
			match:      match,
			cosine:     match.Score,
			combined:   match.Score,
			chunkIndex: chunkIndexOf(match),
		}
	}

	if features.BM25 && len(searchTerms) > 0 {
		applyBM25(candidates, searchTerms, s.cfg.BM25Weight)
	}
	if features.IntentFilter {
		for i := range candidates {
			mod := s.intents.ContextScore(intent.Intent, candidates[i].match.Content)
			candidates[i].intentMod = mod
			candidates[i].combined = clamp01(candidates[i].combined + mod)
		}
	}
	sortCandidates(candidates)

	if features.Threshold {
		candidates = applyThreshold(candidates, s.cfg.MinRelevanceScore, topK)
	}
	if features.MMR && len(candidates) > topK {
		candidates = mmrSelect(candidates, topK, s.cfg.MMRLambda)
	}
	if features.Reranking && len(candidates) > 0 {
		candidates = s.applyRerank(ctx, query, candidates, topK)
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	resp.TextResults = make([]models.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		result := models.SearchResult{
			ResultID:  c.match.ChunkID,
			Type:      "text",
			Content:   c.match.Content,
			ChunkType: c.match.ChunkType,
			Metadata:  c.match.Metadata,
			Score:     c.combined,
			Source: models.SourceRef{
				DocumentID: c.match.DocumentID,
				ChunkIndex: c.chunkIndex,
			},
			ScoringDetails: models.ScoringDetails{
				Cosine:         c.cosine,
				BM25:           c.bm25,
				Combined:       c.combined,
				IntentModifier: c.intentMod,
			},
		}
		if c.rerank != nil {
			result.ScoringDetails.RerankScore = c.rerank
			result.ScoringDetails.RerankingModel = s.reranker.Model()
		}
		resp.TextResults = append(resp.TextResults, result)
	}
	resp.Returned = len(resp.TextResults)
	return nil
}

func (s *SearchService) applyRerank(ctx context.Context, query string, candidates []scoredChunk, topK int) []scoredChunk {
	input := make([]RerankCandidate, len(candidates))
	byID := make(map[string]scoredChunk, len(candidates))
	for i, c := range candidates {
		input[i] = RerankCandidate{ID: c.match.ChunkID, Content: c.match.Content, Score: c.combined}
		byID[c.match.ChunkID] = c
	}

	reranked := s.reranker.Rerank(ctx, query, input, topK)

	out := make([]scoredChunk, 0, len(reranked))
	for _, rc := range reranked {
		c, ok := byID[rc.ID]
		if !ok {
			continue
		}
		grade := rc.RerankScore
		c.rerank = &grade
		c.combined = clamp01(rc.Final)
		out = append(out, c)
	}
	return out
}

// applyBM25 scores candidates with Okapi BM25 over the candidate set only,
// normalizes by the max, and blends with the dense score.
func applyBM25(candidates []scoredChunk, terms []string, weight float64) {
	n := len(candidates)
	if n == 0 {
		return
	}

	docs := make([][]string, n)
	totalLen := 0
	for i, c := range candidates {
		docs[i] = contentTerms(c.match.Content)
		totalLen += len(docs[i])
	}
	avgLen := float64(totalLen) / float64(n)
	if avgLen == 0 {
		return
	}

	// document frequency per query term across the candidate set
	df := make(map[string]int, len(terms))
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, w := range doc {
			seen[w] = true
		}
		for _, term := range terms {
			if seen[term] {
				df[term]++
			}
		}
	}

	scores := make([]float64, n)
	maxScore := 0.0
	for i, doc := range docs {
		tf := map[string]int{}
		for _, w := range doc {
			tf[w]++
		}
		docLen := float64(len(doc))
		score := 0.0
		for _, term := range terms {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			idf := math.Log((float64(n)-float64(df[term])+0.5)/(float64(df[term])+0.5) + 1)
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		}
		scores[i] = score
		if score > maxScore {
			maxScore = score
		}
	}
	if maxScore == 0 {
		return
	}

	for i := range candidates {
		candidates[i].bm25 = scores[i] / maxScore
		candidates[i].combined = clamp01((1-weight)*candidates[i].cosine + weight*candidates[i].bm25)
	}
}

// applyThreshold drops low scorers but always keeps the best min(topK, 3)
// so strict thresholds cannot empty the response.
func applyThreshold(candidates []scoredChunk, minScore float64, topK int) []scoredChunk {
	floor := topK
	if floor > 3 {
		floor = 3
	}

	var kept []scoredChunk
	for _, c := range candidates {
		if c.combined >= minScore {
			kept = append(kept, c)
		}
	}
	if len(kept) >= floor {
		return kept
	}
	if len(candidates) < floor {
		floor = len(candidates)
	}
	return candidates[:floor]
}

// mmrSelect greedily picks candidates balancing relevance against
// similarity to already-selected ones. Similarity is Jaccard over content
// word sets, no embeddings needed.
func mmrSelect(candidates []scoredChunk, topK int, lambda float64) []scoredChunk {
	if len(candidates) == 0 {
		return candidates
	}

	wordSets := make([]map[string]bool, len(candidates))
	for i, c := range candidates {
		set := map[string]bool{}
		for _, w := range contentTerms(c.match.Content) {
			set[w] = true
		}
		wordSets[i] = set
	}

	selected := []int{0}
	remaining := map[int]bool{}
	for i := 1; i < len(candidates); i++ {
		remaining[i] = true
	}

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx, bestScore := -1, math.Inf(-1)
		for i := range remaining {
			maxSim := 0.0
			for _, j := range selected {
				if sim := jaccard(wordSets[i], wordSets[j]); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*candidates[i].combined - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, bestIdx)
		delete(remaining, bestIdx)
	}

	out := make([]scoredChunk, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// sortCandidates orders by combined score, breaking ties by cosine, then
// BM25, then the smaller chunk index.
func sortCandidates(candidates []scoredChunk) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		if a.cosine != b.cosine {
			return a.cosine > b.cosine
		}
		if a.bm25 != b.bm25 {
			return a.bm25 > b.bm25
		}
		return a.chunkIndex < b.chunkIndex
	})
}

func chunkIndexOf(match VectorMatch) int {
	if match.Metadata == nil {
		return 0
	}
	switch v := match.Metadata["chunk_index"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func clampTopK(topK int) int {
	if topK < 1 {
		return 5
	}
	if topK > 20 {
		return 20
	}
	return topK
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
