package imageproc

import (
	"math"
	"strings"
)

// ResizeTarget is the exact output geometry of a planned resize.
// Aspect ratio is already resolved; engines apply it as-is.
type ResizeTarget struct {
	Width  int
	Height int
}

// Plan is the resolved description of one transformation: computed once per
// request from the validated parameters and the probed metadata, and used
// for exactly one encode pass.
type Plan struct {
	Resize    *ResizeTarget // nil when no resize is needed
	Grayscale bool
	Format    Format
	Quality   int

	// Fixed per-format tuning, not exposed to callers.
	PNGCompression int // zlib level for PNG output
	AVIFSpeed      int // encoder speed preset for AVIF output
}

const (
	// pngCompression favors encode speed over the last few percent of
	// size; 6 is zlib's balanced level.
	pngCompression = 6
	// avifSpeed selects the fast AVIF preset (0 slowest, 9 fastest).
	avifSpeed = 8
)

// PlanInput carries the validated request parameters the planner needs.
// Format must already be resolved (explicit, negotiated or default).
type PlanInput struct {
	Width     int // 0 = not requested
	Height    int // 0 = not requested
	Quality   int
	Grayscale bool
	Format    Format
}

// BuildPlan computes the transform plan. Pure: no I/O, no shared state.
//
// Resize is planned when the caller requested a dimension or when the
// original exceeds the configured bounds (safety clamp). The target always
// fits inside the requested box, preserves aspect ratio and never enlarges.
func BuildPlan(in PlanInput, meta Metadata, maxWidth, maxHeight int) Plan {
	p := Plan{
		Grayscale: in.Grayscale,
		Format:    in.Format,
		Quality:   in.Quality,
	}
	p.Resize = fitInside(meta.Width, meta.Height, in.Width, in.Height, maxWidth, maxHeight)

	switch in.Format {
	case FormatPNG:
		p.PNGCompression = pngCompression
	case FormatAVIF:
		p.AVIFSpeed = avifSpeed
	}
	return p
}

// NegotiateFormat picks the output format when the caller supplied none:
// an Accept header advertising webp wins, otherwise the configured default.
func NegotiateFormat(accept string, def Format) Format {
	if strings.Contains(accept, "image/webp") {
		return FormatWebP
	}
	return def
}

// FallbackFormat picks a format every engine can encode, used when the
// negotiated or default format is unsupported by the active engine.
// PNG sources keep PNG so transparency survives; everything else gets JPEG.
func FallbackFormat(meta Metadata) Format {
	if meta.Format == "png" {
		return FormatPNG
	}
	return FormatJPEG
}

// fitInside returns the resize target, or nil when the original already
// fits. Scaling uses the tighter-constraining dimension, preserves aspect
// ratio and never exceeds 1.0 (no enlargement).
func fitInside(origWidth, origHeight, reqWidth, reqHeight, maxWidth, maxHeight int) *ResizeTarget {
	if origWidth < 1 || origHeight < 1 {
		return nil
	}

	boxWidth, boxHeight := origWidth, origHeight
	if reqWidth > 0 {
		boxWidth = reqWidth
	}
	if reqHeight > 0 {
		boxHeight = reqHeight
	}
	if boxWidth > maxWidth {
		boxWidth = maxWidth
	}
	if boxHeight > maxHeight {
		boxHeight = maxHeight
	}

	scale := math.Min(
		float64(boxWidth)/float64(origWidth),
		float64(boxHeight)/float64(origHeight),
	)
	if scale >= 1 {
		return nil
	}

	width := int(math.Round(float64(origWidth) * scale))
	height := int(math.Round(float64(origHeight) * scale))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return &ResizeTarget{Width: width, Height: height}
}
