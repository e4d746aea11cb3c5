package models

import "time"

// Image is an indexed image with a CLIP-space embedding. PDF-extracted
// images carry a back-reference to the originating document and page.
type Image struct {
	ID          string    `bson:"_id" json:"image_id"`
	KBID        string    `bson:"kb_id" json:"kb_id"`
	DocumentID  string    `bson:"document_id,omitempty" json:"document_id,omitempty"`
	StoragePath string    `bson:"storage_path" json:"storage_path"`
	Width       int       `bson:"width" json:"width"`
	Height      int       `bson:"height" json:"height"`
	PageNumber  int       `bson:"page_number,omitempty" json:"page_number,omitempty"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	Embedding   []float32 `bson:"embedding,omitempty" json:"-"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}
