package models

import "time"

// CrawledPage is a single fetched and cleaned page.
type CrawledPage struct {
	URL        string       `bson:"url" json:"url"`
	Title      string       `bson:"title" json:"title"`
	Content    string       `bson:"content" json:"content"`
	Depth      int          `bson:"depth" json:"depth"`
	CrawledAt  time.Time    `bson:"crawled_at" json:"crawled_at"`
	StatusCode int          `bson:"status_code" json:"status_code"`
	WordCount  int          `bson:"word_count,omitempty" json:"word_count,omitempty"`
	Metadata   PageMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// PageMetadata carries head/meta fields captured during extraction.
type PageMetadata struct {
	Description   string `bson:"description,omitempty" json:"description,omitempty"`
	Keywords      string `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Author        string `bson:"author,omitempty" json:"author,omitempty"`
	OGTitle       string `bson:"og_title,omitempty" json:"og_title,omitempty"`
	OGDescription string `bson:"og_description,omitempty" json:"og_description,omitempty"`
	CanonicalURL  string `bson:"canonical_url,omitempty" json:"canonical_url,omitempty"`
}
