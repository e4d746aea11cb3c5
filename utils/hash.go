package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// ContentHash computes the SHA-256 hex digest of cleaned page/document text.
// Used by the sync service for change detection.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CacheQueryHash derives the semantic-cache key hash for a query + search type.
func CacheQueryHash(query, searchType string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", query, searchType)))
	return hex.EncodeToString(sum[:])
}

var slugStripRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a product title into a URL handle.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStripRegex.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
