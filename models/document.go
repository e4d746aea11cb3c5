package models

import "time"

// Document status constants. Status advances monotonically; failed is
// terminal unless the document is reprocessed.
const (
	DocStatusQueued     = "queued"
	DocStatusProcessing = "processing"
	DocStatusChunking   = "chunking"
	DocStatusEmbedding  = "embedding"
	DocStatusStoring    = "storing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Document is an ingested source file or page owned by a knowledge base.
type Document struct {
	ID              string           `bson:"_id" json:"document_id"`
	KBID            string           `bson:"kb_id" json:"kb_id"`
	TenantID        string           `bson:"tenant_id" json:"tenant_id"`
	Filename        string           `bson:"filename" json:"filename"`
	ContentType     string           `bson:"content_type" json:"content_type"`
	Size            int64            `bson:"size" json:"size"`
	Status          string           `bson:"status" json:"status"`
	ProcessingStats *ProcessingStats `bson:"processing_stats,omitempty" json:"processing_stats,omitempty"`
	ContentHash     string           `bson:"content_hash,omitempty" json:"content_hash,omitempty"`
	ScrapeSourceID  string           `bson:"scrape_source_id,omitempty" json:"scrape_source_id,omitempty"`
	SourceURL       string           `bson:"source_url,omitempty" json:"source_url,omitempty"`
	StoragePath     string           `bson:"storage_path,omitempty" json:"storage_path,omitempty"`
	ErrorMessage    string           `bson:"error_message,omitempty" json:"error_message,omitempty"`
	SyncStatus      string           `bson:"sync_status,omitempty" json:"sync_status,omitempty"`
	LastSyncAt      *time.Time       `bson:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	Metadata        map[string]any   `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
}

// ProcessingStats summarizes a completed ingestion run.
type ProcessingStats struct {
	TotalPages          int            `bson:"total_pages" json:"total_pages"`
	TotalChunks         int            `bson:"total_chunks" json:"total_chunks"`
	TotalImages         int            `bson:"total_images" json:"total_images"`
	TablesProcessed     int            `bson:"tables_processed" json:"tables_processed"`
	TableChunksAdded    int            `bson:"table_chunks_added" json:"table_chunks_added"`
	TableProcessingCost float64        `bson:"table_processing_cost" json:"table_processing_cost"`
	TotalTokens         int            `bson:"total_tokens" json:"total_tokens"`
	ProcessingTimeMs    int64          `bson:"processing_time_ms" json:"processing_time_ms"`
	ChunksByType        map[string]int `bson:"chunks_by_type,omitempty" json:"chunks_by_type,omitempty"`
	Languages           []string       `bson:"languages,omitempty" json:"languages,omitempty"`
	EmbeddingModel      string         `bson:"embedding_model" json:"embedding_model"`
}
