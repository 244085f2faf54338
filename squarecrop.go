// Package squarecrop cuts square regions out of images at their native
// resolution.
//
// Crop regions are always expressed in original pixel coordinates. Interactive
// front ends work in a scaled "display" space and convert with pkg/transform;
// the session types in pkg/registry and pkg/editor do that bookkeeping.
//
// Basic usage:
//
//	c := squarecrop.New()
//	out, err := c.CropFile(ctx, "photo.jpg", "thumbs")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("wrote", out)
//
// The package consists of these main components:
//
//  1. Transform (pkg/transform): display/original coordinate math and clamping
//  2. Registry (pkg/registry): the session's images, crop regions and active selection
//  3. Cropper (pkg/cropper): native-resolution rasterizing and encoding
//  4. Editor (pkg/editor): pointer-driven drag and resize of the crop square
//  5. Vision (pkg/vision): crop suggestions from smartcrop or a vision model
package squarecrop

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/menta2k/squarecrop/internal/utils"
	"github.com/menta2k/squarecrop/pkg/cropper"
	"github.com/menta2k/squarecrop/pkg/export"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/registry"
	"github.com/menta2k/squarecrop/pkg/transform"
	"github.com/menta2k/squarecrop/pkg/types"
	"github.com/menta2k/squarecrop/pkg/vision"
)

// Version of the squarecrop library
const Version = "0.1.0"

// Cropper is a one-shot helper: load, position, crop, write.
type Cropper struct {
	processor *processing.Processor
	raster    *cropper.Rasterizer
	suggester vision.Suggester
}

// New creates a Cropper producing JPEG at quality 90 with the default centered square.
func New() *Cropper {
	return NewWithConfig(cropper.CropConfig{}, nil)
}

// NewWithConfig creates a Cropper with custom output settings. A nil
// suggester means the default centered square.
func NewWithConfig(output cropper.CropConfig, suggester vision.Suggester) *Cropper {
	if suggester == nil {
		suggester = vision.CenterSuggester{}
	}
	return &Cropper{
		processor: processing.NewProcessor(),
		raster:    cropper.NewWithConfig(output),
		suggester: suggester,
	}
}

// Region returns the suggested square region of img in original pixels.
func (c *Cropper) Region(ctx context.Context, img image.Image) (types.Rect, error) {
	region, err := c.suggester.Suggest(ctx, img)
	if err != nil {
		return types.Rect{}, err
	}
	b := img.Bounds()
	return transform.ClampToBounds(region, float64(b.Dx()), float64(b.Dy())), nil
}

// Crop rasterizes region of img and encodes it.
func (c *Cropper) Crop(img image.Image, region types.Rect) (types.Raster, error) {
	return c.raster.Crop(img, region)
}

// CropFile crops the image at source (a path or http(s) URL) and writes
// "<base name>.<ext>" into outputDir without overwriting. It returns the path written.
func (c *Cropper) CropFile(ctx context.Context, source, outputDir string) (string, error) {
	img, err := c.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}

	region, err := c.Region(ctx, img)
	if err != nil {
		return "", fmt.Errorf("failed to position crop: %w", err)
	}

	raster, err := c.Crop(img, region)
	if err != nil {
		return "", fmt.Errorf("cropping failed: %w", err)
	}

	name := utils.OutputName(registry.BaseName(source, registry.DefaultName), c.raster.Extension(), registry.DefaultName)
	path := utils.UniquePath(filepath.Join(outputDir, name))
	dst := export.DirDestination{Dir: outputDir, Overwrite: true}
	if err := dst.Save(ctx, filepath.Base(path), raster.Data); err != nil {
		return "", err
	}
	return path, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
