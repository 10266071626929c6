package proxy

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/imagerelay/imagerelay/internal/config"
	"github.com/imagerelay/imagerelay/internal/imageproc"
)

// TransformRequest is the validated, immutable form of one incoming
// request. Constructed once from the query string; invalid input never
// gets past ParseRequest.
type TransformRequest struct {
	SourceURL string
	Width     int // 0 = not requested
	Height    int // 0 = not requested
	Quality   int
	Grayscale bool
	Format    imageproc.Format // "" = not requested, negotiate later
	Accept    string
}

// ParseRequest parses and bounds-checks the query parameters. An explicit
// unsupported format is rejected rather than silently replaced; fallback
// happens only on the negotiation/default path.
func ParseRequest(query url.Values, accept string, cfg *config.Config) (*TransformRequest, error) {
	sourceURL := query.Get("url")
	if sourceURL == "" {
		return nil, newError(KindMissingURL, "missing required parameter: url")
	}

	width, err := parseDimension(query.Get("width"), "width", cfg.MaxWidth)
	if err != nil {
		return nil, err
	}
	height, err := parseDimension(query.Get("height"), "height", cfg.MaxHeight)
	if err != nil {
		return nil, err
	}

	quality := cfg.DefaultQuality
	if raw := query.Get("quality"); raw != "" {
		q, convErr := strconv.Atoi(raw)
		if convErr != nil || q < 1 || q > 100 {
			return nil, newError(KindInvalidQuality,
				fmt.Sprintf("quality must be an integer between 1 and 100, got %q", raw))
		}
		quality = q
	}

	var format imageproc.Format
	if raw := query.Get("format"); raw != "" {
		f, ok := imageproc.ParseFormat(raw)
		if !ok {
			return nil, newError(KindUnsupportedFormat,
				fmt.Sprintf("unsupported format %q (supported: jpeg, png, webp, avif)", raw))
		}
		format = f
	}

	return &TransformRequest{
		SourceURL: sourceURL,
		Width:     width,
		Height:    height,
		Quality:   quality,
		Grayscale: query.Get("grayscale") == "true",
		Format:    format,
		Accept:    accept,
	}, nil
}

func parseDimension(raw, name string, max int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > max {
		return 0, newError(KindInvalidDimension,
			fmt.Sprintf("%s must be an integer between 1 and %d, got %q", name, max, raw))
	}
	return v, nil
}
