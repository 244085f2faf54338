// Package vision proposes square crop regions for an image, either from
// content-aware heuristics (smartcrop) or from a vision model's idea of the
// subject.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"

	"github.com/menta2k/squarecrop/pkg/detection"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/transform"
	"github.com/menta2k/squarecrop/pkg/types"
)

// Suggester proposes a square crop region in original pixel space.
type Suggester interface {
	Suggest(ctx context.Context, img image.Image) (types.Rect, error)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, img image.Image) (types.Rect, error)

// Suggest calls f.
func (f SuggesterFunc) Suggest(ctx context.Context, img image.Image) (types.Rect, error) {
	return f(ctx, img)
}

func imageSize(img image.Image) (float64, float64) {
	b := img.Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// CenterSuggester returns the default centered square.
type CenterSuggester struct {
	// Ratio of the smaller side the square covers. Zero means transform.DefaultCropRatio.
	Ratio float64
}

// Suggest returns a centered square covering Ratio of the smaller side.
func (c CenterSuggester) Suggest(ctx context.Context, img image.Image) (types.Rect, error) {
	if err := ctx.Err(); err != nil {
		return types.Rect{}, err
	}
	ratio := c.Ratio
	if ratio <= 0 {
		ratio = transform.DefaultCropRatio
	}
	w, h := imageSize(img)
	return transform.DefaultCrop(types.Size{Width: w, Height: h}, ratio), nil
}

// SmartSuggester finds the most interesting square with smartcrop.
type SmartSuggester struct {
	resizer *resizer
}

// NewSmartSuggester creates a suggester that uses filter when smartcrop
// downsamples the image for analysis.
func NewSmartSuggester(filter imaging.ResampleFilter) *SmartSuggester {
	return &SmartSuggester{resizer: &resizer{resampler: filter}}
}

// Suggest returns the largest square smartcrop scores highest.
func (s *SmartSuggester) Suggest(ctx context.Context, img image.Image) (types.Rect, error) {
	if err := ctx.Err(); err != nil {
		return types.Rect{}, err
	}
	analyzer := smartcrop.NewAnalyzer(s.resizer)

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)
	go func() {
		crop, err := analyzer.FindBestCrop(img, 1, 1)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.Rect{}, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return types.Rect{}, fmt.Errorf("finding best crop: %w", result.err)
		}
		b := img.Bounds()
		crop := result.crop
		if crop.In(b) {
			crop = crop.Sub(b.Min)
		}
		return squareWithin(crop, b.Dx(), b.Dy()), nil
	}
}

// squareWithin shrinks r to a centered square and keeps it inside w x h.
func squareWithin(r image.Rectangle, w, h int) types.Rect {
	side := math.Min(float64(r.Dx()), float64(r.Dy()))
	side = math.Min(side, math.Min(float64(w), float64(h)))
	cx := float64(r.Min.X) + float64(r.Dx())/2
	cy := float64(r.Min.Y) + float64(r.Dy())/2
	return transform.ClampToBounds(types.Rect{
		X:      cx - side/2,
		Y:      cy - side/2,
		Width:  side,
		Height: side,
	}, float64(w), float64(h))
}

// resizer implements the smartcrop.Resizer interface with imaging.
type resizer struct {
	resampler imaging.ResampleFilter
}

func (r *resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.resampler)
}

// SubjectConfig controls how images are sent to the model and how tight the
// square is.
type SubjectConfig struct {
	SendFormat  string
	SendSize    int
	SendQuality int
	// Zoom shrinks the square below the largest that fits (0.01..1).
	Zoom float64
}

// DefaultSubjectConfig matches what small local vision models handle well.
func DefaultSubjectConfig() SubjectConfig {
	return SubjectConfig{SendFormat: "jpg", SendSize: 1024, SendQuality: 85, Zoom: 1}
}

// SubjectSuggester centers the largest fitting square on the subject a vision
// model reports. When the model sees no subject it defers to Fallback.
type SubjectSuggester struct {
	detector  *detection.Detector
	processor *processing.Processor
	config    SubjectConfig
	fallback  Suggester
	logger    *slog.Logger
}

// NewSubjectSuggester creates a model-backed suggester. A nil fallback means
// CenterSuggester.
func NewSubjectSuggester(d *detection.Detector, p *processing.Processor, config SubjectConfig, fallback Suggester, logger *slog.Logger) *SubjectSuggester {
	def := DefaultSubjectConfig()
	if config.SendFormat == "" {
		config.SendFormat = def.SendFormat
	}
	if config.SendQuality <= 0 {
		config.SendQuality = def.SendQuality
	}
	if config.Zoom <= 0 {
		config.Zoom = def.Zoom
	}
	if fallback == nil {
		fallback = CenterSuggester{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubjectSuggester{detector: d, processor: p, config: config, fallback: fallback, logger: logger}
}

// Suggest asks the model for the subject and frames it.
func (s *SubjectSuggester) Suggest(ctx context.Context, img image.Image) (types.Rect, error) {
	imgB64, err := s.processor.PrepareImageForModel(img, s.config.SendFormat, s.config.SendSize, s.config.SendQuality)
	if err != nil {
		return types.Rect{}, fmt.Errorf("preparing image for model: %w", err)
	}

	result, err := s.detector.DetectSubject(ctx, imgB64)
	if errors.Is(err, detection.ErrNoSubject) {
		s.logger.Info("No subject detected, using fallback suggestion", "model", s.detector.Model())
		return s.fallback.Suggest(ctx, img)
	}
	if err != nil {
		return types.Rect{}, fmt.Errorf("detecting subject: %w", err)
	}

	s.logger.Debug("Subject detected",
		"label", result.Primary.Label,
		"confidence", result.Primary.Confidence,
		"cx", result.Primary.Cx,
		"cy", result.Primary.Cy)

	w, h := imageSize(img)
	return SquareAround(result.Primary, w, h, s.config.Zoom), nil
}

// SquareAround returns the square centered as close as possible to the
// subject's focus point. The side is zoom times the smaller image side but
// never less than needed to hold the subject box when that fits.
func SquareAround(p types.Primary, w, h, zoom float64) types.Rect {
	maxSide := math.Min(w, h)
	side := maxSide * math.Max(0.01, math.Min(zoom, 1))
	subject := math.Max(p.Box.W*w, p.Box.H*h)
	side = math.Min(math.Max(side, subject), maxSide)

	cx, cy := p.Cx*w, p.Cy*h
	return transform.ClampToBounds(types.Rect{
		X:      cx - side/2,
		Y:      cy - side/2,
		Width:  side,
		Height: side,
	}, w, h)
}
