package models

import "time"

// Job is the ephemeral per-document processing record kept in Redis under
// doc_job:{document_id} with a 24h TTL. Authoritative status after
// completion is mirrored to the Document.
type Job struct {
	DocumentID      string    `json:"document_id" redis:"document_id"`
	KBID            string    `json:"kb_id" redis:"kb_id"`
	Status          string    `json:"status" redis:"status"`
	Progress        int       `json:"progress" redis:"progress"`
	CurrentStep     string    `json:"current_step" redis:"current_step"`
	TotalChunks     int       `json:"total_chunks" redis:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks" redis:"processed_chunks"`
	ErrorMessage    string    `json:"error_message,omitempty" redis:"error_message"`
	CreatedAt       time.Time `json:"created_at" redis:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" redis:"updated_at"`
}

// Scrape job statuses for async crawl jobs.
const (
	CrawlStatusPending   = "pending"
	CrawlStatusCrawling  = "crawling"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)

// ScrapeJob tracks an asynchronous crawl-and-ingest request.
type ScrapeJob struct {
	ID             string     `bson:"_id" json:"job_id"`
	KBID           string     `bson:"kb_id" json:"kb_id"`
	TenantID       string     `bson:"tenant_id" json:"tenant_id"`
	URL            string     `bson:"url" json:"url"`
	Status         string     `bson:"status" json:"status"`
	MaxDepth       int        `bson:"max_depth" json:"max_depth"`
	MaxPages       int        `bson:"max_pages" json:"max_pages"`
	TotalPages     int        `bson:"total_pages" json:"total_pages"`
	PagesScraped   int        `bson:"pages_scraped" json:"pages_scraped"`
	PagesProcessed int        `bson:"pages_processed" json:"pages_processed"`
	Error          string     `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}
