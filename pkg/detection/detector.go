// Package detection locates the primary subject of an image with a vision
// model so a square crop can be centered on it.
package detection

import (
	"context"
	"errors"
	"strings"

	"github.com/menta2k/squarecrop/pkg/client"
	"github.com/menta2k/squarecrop/pkg/types"
)

// ErrNoSubject is returned when the model found nothing worth centering on.
var ErrNoSubject = errors.New("no subject detected")

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for the subject a square crop should keep.
const DefaultPrompt = `You are an image subject locator for square thumbnails.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0},
    "cx": 0.0,
    "cy": 0.0
  },
  "description": "short neutral sentence (<= 20 words)",
  "tags": ["tag1", "tag2", "tag3"]
}

RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner of the box.
- cx,cy is the point a square crop should be centered on (for people: the face).
- The box should tightly include the visually dominant subject (prefer people, animals, vehicles; else the most salient object).
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If no subject is found, return label "none" with confidence 0.0 and box {"x":0.25,"y":0.25,"w":0.5,"h":0.5}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// MinConfidence below which a detection is treated as "none".
const MinConfidence = 0.2

// fallback labels and descriptions produced by lenient backends
var fallbackIndicators = []string{"unclear", "empty", "parse", "error", "fallback", "non-json", "no json", "generic"}

// Detector handles image subject detection using vision models
type Detector struct {
	client client.VisionClient
	model  string
}

// NewDetector creates a detector asking model through c.
func NewDetector(c client.VisionClient, model string) *Detector {
	return &Detector{client: c, model: model}
}

// Model returns the model name requests are sent to.
func (d *Detector) Model() string {
	return d.model
}

// DetectSubject returns the primary subject of the base64 encoded image.
// ErrNoSubject is returned when the model reports none or is not confident.
func (d *Detector) DetectSubject(ctx context.Context, imageB64 string) (*types.AnalysisResult, error) {
	result, err := d.DetectSubjectWithPrompt(ctx, imageB64, DefaultPrompt)
	if err != nil {
		return nil, err
	}
	if isNone(result) {
		return result, ErrNoSubject
	}
	return result, nil
}

// DetectSubjectWithPrompt analyzes an image with a custom prompt. The result is
// normalized but not judged.
func (d *Detector) DetectSubjectWithPrompt(ctx context.Context, imageB64, prompt string) (*types.AnalysisResult, error) {
	result, err := d.client.AnalyzeImage(ctx, d.model, prompt, imageB64)
	if err != nil {
		return nil, err
	}

	result.Primary.Box = normalizeBox(result.Primary.Box)
	result.Primary.Cx, result.Primary.Cy = focusPoint(result.Primary)
	result.Tags = normalizeTags(result.Tags)
	return result, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

func isNone(result *types.AnalysisResult) bool {
	label := strings.ToLower(strings.TrimSpace(result.Primary.Label))
	if label == "" || label == "none" || result.Primary.Confidence < MinConfidence {
		return true
	}
	desc := strings.ToLower(result.Description)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) || strings.Contains(desc, indicator) {
			return true
		}
	}
	return false
}

// focusPoint keeps the reported center when it lies inside the box and
// otherwise uses the box center.
func focusPoint(p types.Primary) (float64, float64) {
	b := p.Box
	if p.Cx >= b.X && p.Cx <= b.X+b.W && p.Cy >= b.Y && p.Cy <= b.Y+b.H && (p.Cx != 0 || p.Cy != 0) {
		return p.Cx, p.Cy
	}
	return b.X + b.W/2, b.Y + b.H/2
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clamps the box into the unit square.
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

// normalizeTags ensures tags are cleaned and limited to 5 entries
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
