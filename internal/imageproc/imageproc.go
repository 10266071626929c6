// Package imageproc plans and executes image transformations. Planning is
// pure; execution is delegated to an Engine, with libvips (bimg) as the
// primary implementation and a pure-Go fallback.
package imageproc

import (
	"errors"
	"strings"
)

// Format is a supported output image format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// ParseFormat normalizes a caller-supplied format name. "jpg" is accepted
// as an alias for "jpeg". Unknown names return ok=false.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "avif":
		return FormatAVIF, true
	default:
		return "", false
	}
}

// MIME returns the Content-Type value for the format.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Metadata describes a decoded image. It is probed once, before the
// transform plan is computed, and retained so original dimensions can be
// reported even if a later stage fails.
type Metadata struct {
	Width  int
	Height int
	Format string
}

var (
	// ErrInvalidImage marks payloads the engine cannot decode.
	ErrInvalidImage = errors.New("invalid image data")
	// ErrUnsupportedOutput marks output formats the engine cannot encode.
	ErrUnsupportedOutput = errors.New("unsupported output format")
)

// Engine decodes, transforms and encodes image bytes according to a Plan.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Metadata probes width, height and source format without transforming.
	Metadata(data []byte) (Metadata, error)
	// Transform runs decode, optional resize, optional grayscale and a
	// single encode pass.
	Transform(data []byte, plan Plan) ([]byte, error)
	// Supports reports whether the engine can encode the given format.
	Supports(format Format) bool
}
