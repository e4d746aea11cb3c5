package utils

import "strings"

var imageTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// IsValidImageType reports whether the MIME type is one the image pipeline
// accepts.
func IsValidImageType(contentType string) bool {
	_, ok := imageTypes[strings.ToLower(contentType)]
	return ok
}

// GetImageExtension maps a MIME type to a file extension, defaulting to
// .jpg for unknown types.
func GetImageExtension(contentType string) string {
	if ext, ok := imageTypes[strings.ToLower(contentType)]; ok {
		return ext
	}
	return ".jpg"
}
