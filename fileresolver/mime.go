package fileresolver

import (
	"path/filepath"
	"strings"
)

// inferImageMIME maps a filename's extension to an image MIME type, per
// spec §4.3's closed extension table. Unknown extensions fall back to
// application/octet-stream rather than failing resolution outright.
func inferImageMIME(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "svg":
		return "image/svg+xml"
	case "tiff", "tif":
		return "image/tiff"
	case "ico":
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
