package util

import (
	"net/http"
)

// DetectContentType sniffs the MIME type of the given data. Used when an
// upstream response carries no Content-Type header.
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}

// IsImageMIME checks if the MIME type is a supported image format
func IsImageMIME(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/png", "image/webp", "image/gif", "image/tiff", "image/heif", "image/avif":
		return true
	default:
		return false
	}
}
