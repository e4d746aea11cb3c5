package models

import "time"

// KnowledgeBase is the tenant-scoped logical index namespace. Stats are
// denormalized counts refreshed on ingestion completion and deletion.
type KnowledgeBase struct {
	KBID      string    `bson:"kb_id" json:"kb_id"`
	TenantID  string    `bson:"tenant_id" json:"tenant_id"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Stats     KBStats   `bson:"stats" json:"stats"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

type KBStats struct {
	DocumentCount int    `bson:"document_count" json:"document_count"`
	ChunkCount    int    `bson:"chunk_count" json:"chunk_count"`
	VectorCount   int    `bson:"vector_count" json:"vector_count"`
	ImageCount    int    `bson:"image_count" json:"image_count"`
	ProductCount  int    `bson:"product_count" json:"product_count"`
	Dimension     int    `bson:"dimension" json:"dimension"`
	Model         string `bson:"model" json:"model"`
}
