package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/squarecrop/pkg/transform"
	"github.com/menta2k/squarecrop/pkg/types"
)

// ErrUnknownFormat is returned when no registered decoder accepts the payload.
var ErrUnknownFormat = errors.New("image: unknown or unsupported format")

// Processor handles image decoding, encoding and preview rendering
type Processor struct {
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsImageContentType reports whether contentType is an image/* MIME type.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// SniffContentType returns declared when it is set and not generic, otherwise the
// type detected from the first bytes of data.
func SniffContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// Decode decodes data into an image. Cancelling ctx abandons the decode; the
// call returns as soon as ctx is done even if the decoder is still running.
func (p *Processor) Decode(ctx context.Context, data []byte, contentType string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type decodeResult struct {
		img image.Image
		err error
	}
	resultChan := make(chan decodeResult, 1)

	go func() {
		img, err := p.decodeImageFromBytes(data, contentType)
		resultChan <- decodeResult{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.img, res.err
	}
}

// DecodeConfig reads only the image header.
func (p *Processor) DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decoding image header: %w", err)
	}
	return cfg, format, nil
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte, contentType string) (image.Image, error) {
	switch strings.ToLower(contentType) {
	case "image/png":
		if img, err := png.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	case "image/jpeg", "image/jpg":
		if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
			return img, nil
		}
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Animated or extended WebP that x/image cannot handle
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, ErrUnknownFormat
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path, imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.decodeImageFromBytes(data, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	return img, nil
}

// FetchURL downloads an image payload and returns its bytes and content type.
func (p *Processor) FetchURL(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "squarecrop/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return data, SniffContentType(resp.Header.Get("Content-Type"), data), nil
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	data, contentType, err := p.FetchURL(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	if !IsImageContentType(contentType) {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}
	return p.Decode(ctx, data, contentType)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// EncodePNG encodes img losslessly, used for previews.
func (p *Processor) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img at quality.
func (p *Processor) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel downsizes img so its long side is at most maxDim and
// returns it base64 encoded for a vision model.
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case "png":
		data, err = p.EncodePNG(img)
	default: // jpg
		data, err = p.EncodeJPEG(img, quality)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// RenderOverlay renders img scaled to fit the container and draws the crop
// rectangle (given in original space) on top, dimming everything outside it.
// This is what the user sees while editing.
func (p *Processor) RenderOverlay(img image.Image, crop types.Rect, container types.Size) *image.NRGBA {
	b := img.Bounds()
	scale := transform.ComputeScale(float64(b.Dx()), float64(b.Dy()), container.Width, container.Height)
	if scale <= 0 {
		return imaging.Clone(img)
	}
	display := transform.DisplaySize(float64(b.Dx()), float64(b.Dy()), scale)

	w := maxInt(1, int(math.Round(display.Width)))
	h := maxInt(1, int(math.Round(display.Height)))
	nrgba := imaging.Resize(img, w, h, imaging.Linear)

	box := transform.ToDisplay(crop, scale).Pixels().Intersect(nrgba.Bounds())

	// Dim everything outside the crop
	for y := 0; y < h; y++ {
		i := y * nrgba.Stride
		for x := 0; x < w; x++ {
			if !image.Pt(x, y).In(box) {
				nrgba.Pix[i+0] /= 2
				nrgba.Pix[i+1] /= 2
				nrgba.Pix[i+2] /= 2
			}
			i += 4
		}
	}

	gold := color.NRGBA{255, 204, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := int(math.Max(1, 0.004*float64(minInt(w, h))))
	handle := int(math.Max(6, 0.02*float64(minInt(w, h))))

	drawBox(nrgba, box, gold, stroke)
	// Resize handle at the bottom-right corner
	for s := 0; s < handle; s++ {
		drawHLine(nrgba, box.Max.Y-1-s, box.Max.X-handle, box.Max.X, red)
	}

	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, r image.Rectangle, color color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, color)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, color)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, color)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, color)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
