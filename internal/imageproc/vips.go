package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/gen2brain/jpegli"
	"github.com/h2non/bimg"

	// Decoders for the jpegli encode path, which goes through image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// VipsEngine executes transforms through libvips via bimg. JPEG output is
// encoded with jpegli, falling back to libvips when jpegli cannot handle
// the intermediate.
type VipsEngine struct{}

func NewVipsEngine() *VipsEngine {
	return &VipsEngine{}
}

func (e *VipsEngine) Metadata(data []byte) (Metadata, error) {
	meta, err := bimg.NewImage(data).Metadata()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Metadata{
		Width:  meta.Size.Width,
		Height: meta.Size.Height,
		Format: meta.Type,
	}, nil
}

func (e *VipsEngine) Supports(format Format) bool {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP:
		return true
	case FormatAVIF:
		// AVIF depends on how the linked libvips was built.
		return bimg.IsTypeSupported(bimg.AVIF)
	default:
		return false
	}
}

func (e *VipsEngine) Transform(data []byte, plan Plan) ([]byte, error) {
	if plan.Format == FormatJPEG {
		return e.transformToJPEG(data, plan)
	}

	opts := bimg.Options{
		Quality:       plan.Quality,
		Type:          bimgType(plan.Format),
		StripMetadata: true,
	}
	applyGeometry(&opts, plan)
	switch plan.Format {
	case FormatPNG:
		opts.Compression = plan.PNGCompression
	case FormatAVIF:
		opts.Speed = plan.AVIFSpeed
	}

	out, err := bimg.NewImage(data).Process(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return out, nil
}

// transformToJPEG applies resize/grayscale through libvips into a lossless
// PNG intermediate, then encodes with jpegli. The jpegli path trades a few
// percent of compression for encode speed (no progressive scan script, no
// Huffman optimization pass). libvips is the fallback encoder.
func (e *VipsEngine) transformToJPEG(data []byte, plan Plan) ([]byte, error) {
	intermediate := data
	if plan.Resize != nil || plan.Grayscale {
		opts := bimg.Options{
			Type:    bimg.PNG,
			Quality: 100,
		}
		applyGeometry(&opts, plan)
		resized, err := bimg.NewImage(data).Process(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		intermediate = resized
	}

	img, _, err := image.Decode(bytes.NewReader(intermediate))
	if err != nil {
		return e.vipsJPEG(intermediate, plan.Quality)
	}

	var buf bytes.Buffer
	err = jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
		Quality:              plan.Quality,
		ProgressiveLevel:     0,
		OptimizeCoding:       false,
		AdaptiveQuantization: true,
	})
	if err != nil {
		return e.vipsJPEG(intermediate, plan.Quality)
	}
	return buf.Bytes(), nil
}

func (e *VipsEngine) vipsJPEG(data []byte, quality int) ([]byte, error) {
	out, err := bimg.NewImage(data).Process(bimg.Options{
		Type:          bimg.JPEG,
		Quality:       quality,
		StripMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return out, nil
}

func applyGeometry(opts *bimg.Options, plan Plan) {
	if plan.Resize != nil {
		opts.Width = plan.Resize.Width
		opts.Height = plan.Resize.Height
		// Targets are exact and already aspect-correct; never upscale.
		opts.Enlarge = false
	}
	if plan.Grayscale {
		opts.Interpretation = bimg.InterpretationBW
	}
}

func bimgType(format Format) bimg.ImageType {
	switch format {
	case FormatPNG:
		return bimg.PNG
	case FormatWebP:
		return bimg.WEBP
	case FormatAVIF:
		return bimg.AVIF
	default:
		return bimg.JPEG
	}
}
