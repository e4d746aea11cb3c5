package models

import "time"

// Scrape source sync status constants.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// Scrape types.
const (
	ScrapeTypeSingleURL = "single_url"
	ScrapeTypeSitemap   = "sitemap"
	ScrapeTypeCrawl     = "crawl"
)

// ScrapeSource is a tracked URL plus crawl policy whose documents are kept
// in sync with the remote via content hashing.
type ScrapeSource struct {
	ID                string         `bson:"_id" json:"source_id"`
	KBID              string         `bson:"kb_id" json:"kb_id"`
	TenantID          string         `bson:"tenant_id" json:"tenant_id"`
	URL               string         `bson:"url" json:"url"`
	ScrapeType        string         `bson:"scrape_type" json:"scrape_type"`
	MaxDepth          int            `bson:"max_depth" json:"max_depth"`
	MaxPages          int            `bson:"max_pages" json:"max_pages"`
	AutoSyncEnabled   bool           `bson:"auto_sync_enabled" json:"auto_sync_enabled"`
	SyncIntervalHours int            `bson:"sync_interval_hours" json:"sync_interval_hours"`
	LastSyncAt        *time.Time     `bson:"last_sync_at,omitempty" json:"last_sync_at,omitempty"`
	NextSyncAt        *time.Time     `bson:"next_sync_at,omitempty" json:"next_sync_at,omitempty"`
	SyncStatus        string         `bson:"sync_status" json:"sync_status"`
	DocumentsCount    int            `bson:"documents_count" json:"documents_count"`
	LastError         string         `bson:"last_error,omitempty" json:"last_error,omitempty"`
	Metadata          map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt         time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at" json:"updated_at"`
}

// PageChange describes one page in a sync diff.
type PageChange struct {
	URL        string       `json:"url"`
	DocumentID string       `json:"document_id,omitempty"`
	OldHash    string       `json:"old_hash,omitempty"`
	NewHash    string       `json:"new_hash,omitempty"`
	Page       *CrawledPage `json:"-"`
}

// ChangeSet classifies crawled pages against a source's existing documents.
type ChangeSet struct {
	NewPages       []PageChange `json:"new_pages"`
	ChangedPages   []PageChange `json:"changed_pages"`
	RemovedPages   []PageChange `json:"removed_pages"`
	UnchangedPages []string     `json:"unchanged_pages"`
}

// HasChanges reports whether any ingest/delete work is pending.
func (c *ChangeSet) HasChanges() bool {
	return len(c.NewPages) > 0 || len(c.ChangedPages) > 0 || len(c.RemovedPages) > 0
}

// SyncSummary is the per-sync result reported to callers.
type SyncSummary struct {
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}
