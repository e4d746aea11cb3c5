package models

// Search request/response records shared by routes and services.

// SearchRequest is the hybrid-search input. Feature pointers distinguish
// "not set" (use config default) from an explicit per-call override.
type SearchRequest struct {
	KBID                string              `json:"kb_id" binding:"required"`
	Query               string              `json:"query" binding:"required"`
	TopK                int                 `json:"top_k"`
	SearchType          string              `json:"search_type"` // text, image, product
	Filters             map[string]any      `json:"filters,omitempty"`
	ConversationHistory []ConversationTurn  `json:"conversation_history,omitempty"`
	Features            *FeatureOverrides   `json:"features,omitempty"`
	ProductFilters      *ProductFilters     `json:"product_filters,omitempty"`
}

// ConversationTurn is one prior message used for query rewriting.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FeatureOverrides toggles individual retrieval stages per call.
type FeatureOverrides struct {
	Expansion    *bool `json:"expansion,omitempty"`
	Rewriting    *bool `json:"rewriting,omitempty"`
	BM25         *bool `json:"bm25,omitempty"`
	IntentFilter *bool `json:"intent_filter,omitempty"`
	MMR          *bool `json:"mmr,omitempty"`
	Threshold    *bool `json:"threshold,omitempty"`
	Reranking    *bool `json:"reranking,omitempty"`
}

// ProductFilters narrows product search results before ranking.
type ProductFilters struct {
	PriceMin    *float64 `json:"price_min,omitempty"`
	PriceMax    *float64 `json:"price_max,omitempty"`
	Vendor      string   `json:"vendor,omitempty"`
	ProductType string   `json:"product_type,omitempty"`
	InStockOnly bool     `json:"in_stock_only,omitempty"`
	HasVariants bool     `json:"has_variants,omitempty"`
}

// ScoringDetails breaks a result's final score into its signal components.
type ScoringDetails struct {
	Cosine         float64  `json:"cosine"`
	BM25           float64  `json:"bm25,omitempty"`
	Combined       float64  `json:"combined"`
	RerankScore    *float64 `json:"rerank_score,omitempty"`
	IntentModifier float64  `json:"intent_modifier,omitempty"`
	RerankingModel string   `json:"reranking_model,omitempty"`
}

// SourceRef points a result back to its catalog entities.
type SourceRef struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber int    `json:"page_number,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
}

// SearchResult is one ranked text chunk.
type SearchResult struct {
	ResultID       string         `json:"result_id"`
	Type           string         `json:"type"` // text, image, product
	Content        string         `json:"content"`
	Source         SourceRef      `json:"source"`
	Score          float64        `json:"score"`
	ScoringDetails ScoringDetails `json:"scoring_details"`
	ChunkType      string         `json:"chunk_type,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ProductResult is one ranked product with availability enrichment.
type ProductResult struct {
	ProductID   string           `json:"product_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Price       float64          `json:"price"`
	Vendor      string           `json:"vendor,omitempty"`
	ProductType string           `json:"product_type,omitempty"`
	InStock     bool             `json:"in_stock"`
	Variants    []ProductVariant `json:"variants,omitempty"`
	PurchaseURL string           `json:"purchase_url,omitempty"`
	ImageURL    string           `json:"image_url,omitempty"`
	Score       float64          `json:"score"`
}

// ImageResult is one ranked image.
type ImageResult struct {
	ImageID     string  `json:"image_id"`
	DocumentID  string  `json:"document_id,omitempty"`
	StoragePath string  `json:"storage_path"`
	PageNumber  int     `json:"page_number,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// EnhancedSearchInfo reports what the query-understanding stages did.
type EnhancedSearchInfo struct {
	OriginalQuery   string   `json:"original_query"`
	RewrittenQuery  string   `json:"rewritten_query,omitempty"`
	SearchTerms     []string `json:"search_terms,omitempty"`
	DetectedIntent  string   `json:"detected_intent,omitempty"`
	FeaturesApplied []string `json:"features_applied"`
}

// SearchResponse is the full hybrid-search output.
type SearchResponse struct {
	TextResults     []SearchResult     `json:"text_results"`
	ImageResults    []ImageResult      `json:"image_results"`
	ProductResults  []ProductResult    `json:"product_results"`
	TotalFound      int                `json:"total_found"`
	Returned        int                `json:"returned"`
	ChunksSearched  int                `json:"chunks_searched"`
	QueryTokens     int                `json:"query_tokens"`
	EmbeddingModel  string             `json:"embedding_model"`
	SearchTimeMs    int64              `json:"search_time_ms"`
	Cached          bool               `json:"cached"`
	CacheSimilarity float64            `json:"cache_similarity,omitempty"`
	EnhancedSearch  EnhancedSearchInfo `json:"enhanced_search"`
}
