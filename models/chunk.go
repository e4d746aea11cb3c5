package models

import "time"

// Closed set of chunk types stored with each vector. Finer-grained labels
// from the chunker (instructions, list, ...) are kept in metadata as
// original_chunk_type.
const (
	ChunkTypeText    = "text"
	ChunkTypeHeading = "heading"
	ChunkTypeFAQ     = "faq"
	ChunkTypeTable   = "table"
	ChunkTypeCode    = "code"
	ChunkTypeImage   = "image"
)

// Chunk is a bounded contiguous text fragment. Immutable once inserted;
// deleting its document cascades to chunks and vectors.
type Chunk struct {
	ID          string         `bson:"_id" json:"chunk_id"`
	DocumentID  string         `bson:"document_id" json:"document_id"`
	KBID        string         `bson:"kb_id" json:"kb_id"`
	ChunkIndex  int            `bson:"chunk_index" json:"chunk_index"`
	Content     string         `bson:"content" json:"content"`
	ChunkType   string         `bson:"chunk_type" json:"chunk_type"`
	ContentType string         `bson:"content_type,omitempty" json:"content_type,omitempty"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
}
