package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

// SimpleEngine is a pure-Go engine for environments without libvips.
// It decodes JPEG, PNG, GIF and WebP and encodes JPEG and PNG only;
// the planner falls back accordingly.
type SimpleEngine struct{}

func NewSimpleEngine() *SimpleEngine {
	return &SimpleEngine{}
}

func (e *SimpleEngine) Metadata(data []byte) (Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Metadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}

func (e *SimpleEngine) Supports(format Format) bool {
	return format == FormatJPEG || format == FormatPNG
}

func (e *SimpleEngine) Transform(data []byte, plan Plan) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if plan.Resize != nil {
		img = imaging.Resize(img, plan.Resize.Width, plan.Resize.Height, imaging.Lanczos)
	}
	if plan.Grayscale {
		img = imaging.Grayscale(img)
	}

	var buf bytes.Buffer
	switch plan.Format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: plan.Quality})
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		err = enc.Encode(&buf, img)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOutput, plan.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode as %s: %v", plan.Format, err)
	}
	return buf.Bytes(), nil
}
