package cropper

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/squarecrop/pkg/types"
)

// ErrSourceNotLoaded is returned when the source image has no decoded pixel data yet.
var ErrSourceNotLoaded = errors.New("source image not loaded")

// Output formats
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// DefaultQuality is the fixed lossy quality used for crop output.
const DefaultQuality = 90

// Rasterizer cuts a crop region out of a source image at native resolution
// and encodes the result.
type Rasterizer struct {
	config CropConfig
}

// CropConfig holds output encoding settings
type CropConfig struct {
	Format   string
	Quality  int
	Lossless bool
}

// New creates a Rasterizer producing JPEG at DefaultQuality
func New() *Rasterizer {
	return &Rasterizer{
		config: CropConfig{
			Format:  FormatJPEG,
			Quality: DefaultQuality,
		},
	}
}

// NewWithConfig creates a Rasterizer with custom output settings
func NewWithConfig(config CropConfig) *Rasterizer {
	if config.Format == "" {
		config.Format = FormatJPEG
	}
	if config.Quality <= 0 {
		config.Quality = DefaultQuality
	}
	return &Rasterizer{config: config}
}

// Config returns the output settings.
func (r *Rasterizer) Config() CropConfig {
	return r.config
}

// Extension is the file extension, without the dot, matching the output format.
func (r *Rasterizer) Extension() string {
	return Extension(r.config.Format)
}

// Rasterize returns a new image holding exactly the pixels of region, which is
// expressed in original-pixel space. The output is round(width) x round(height).
// region must already lie within the source bounds; it is not re-validated beyond
// nudging the rounded origin back inside when rounding pushes an edge out.
func (r *Rasterizer) Rasterize(src image.Image, region types.Rect) (image.Image, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrSourceNotLoaded
	}
	bounds := src.Bounds()

	rect := region.Pixels().Add(bounds.Min)
	if d := rect.Max.X - bounds.Max.X; d > 0 {
		rect = rect.Sub(image.Pt(d, 0))
	}
	if d := rect.Max.Y - bounds.Max.Y; d > 0 {
		rect = rect.Sub(image.Pt(0, d))
	}
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v", rect)
	}

	return imaging.Crop(src, rect), nil
}

// Encode compresses img in the configured format.
func (r *Rasterizer) Encode(img image.Image) (types.Raster, error) {
	var buf bytes.Buffer

	switch strings.ToLower(r.config.Format) {
	case FormatWebP:
		opts := &webp.Options{Lossless: r.config.Lossless, Quality: float32(r.config.Quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return types.Raster{}, fmt.Errorf("encoding webp: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return types.Raster{}, fmt.Errorf("encoding png: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(r.config.Quality)); err != nil {
			return types.Raster{}, fmt.Errorf("encoding jpeg: %w", err)
		}
	}

	b := img.Bounds()
	return types.Raster{
		Data:        buf.Bytes(),
		ContentType: ContentType(r.config.Format),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Crop rasterizes region from src and encodes the result.
func (r *Rasterizer) Crop(src image.Image, region types.Rect) (types.Raster, error) {
	img, err := r.Rasterize(src, region)
	if err != nil {
		return types.Raster{}, err
	}
	return r.Encode(img)
}

// ContentType maps an output format to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Extension maps an output format to its file extension.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "jpeg"
	}
}

// View returns a lazy, zero-copy view of region on src. Used for previews where
// allocating a full-resolution copy is wasteful.
func View(src image.Image, region types.Rect) image.Image {
	return &croppedImage{
		original: src,
		bounds:   region.Pixels().Add(src.Bounds().Min).Intersect(src.Bounds()),
	}
}

// croppedImage implements the image.Image interface for cropped images
type croppedImage struct {
	original image.Image
	bounds   image.Rectangle
}

func (c *croppedImage) ColorModel() color.Model {
	return c.original.ColorModel()
}

func (c *croppedImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.bounds.Dx(), c.bounds.Dy())
}

func (c *croppedImage) At(x, y int) color.Color {
	pt := image.Point{x, y}
	if !pt.In(c.Bounds()) {
		return color.RGBA{}
	}
	return c.original.At(x+c.bounds.Min.X, y+c.bounds.Min.Y)
}
