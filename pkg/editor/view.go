// Package editor is the interactive crop view: it maps pointer gestures in
// display space onto the active entry's crop region, which the registry keeps
// in original-pixel space.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/menta2k/squarecrop/pkg/cropper"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/registry"
	"github.com/menta2k/squarecrop/pkg/transform"
	"github.com/menta2k/squarecrop/pkg/types"
	"github.com/menta2k/squarecrop/pkg/vision"
)

// ErrNoActiveImage is returned by operations that need an active entry.
var ErrNoActiveImage = errors.New("no active image")

// ErrInvalidContainer is returned for non-positive container sizes.
var ErrInvalidContainer = errors.New("container must have positive width and height")

// maxCropAttempts bounds re-cuts when the region keeps moving during CropEntry.
const maxCropAttempts = 3

// Action is the kind of pointer gesture in progress.
type Action string

const (
	ActionNone   Action = ""
	ActionDrag   Action = "drag"
	ActionResize Action = "resize"
)

// Config holds the view's geometry settings.
type Config struct {
	Container types.Size
	// MinSize is the smallest crop side in display pixels.
	MinSize float64
}

// DefaultConfig returns a 600x400 container with the default minimum size.
func DefaultConfig() Config {
	return Config{
		Container: registry.DefaultOptions().Container,
		MinSize:   transform.DefaultMinSize,
	}
}

// State is the derived display state of the active entry.
type State struct {
	ActiveID  string     `json:"active_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Container types.Size `json:"container"`
	Scale     float64    `json:"scale"`
	Display   types.Size `json:"display"`
	// Crop is the crop region in display space.
	Crop types.Rect `json:"crop"`
	// Region is the crop region in original-pixel space.
	Region  types.Rect `json:"region"`
	Action  Action     `json:"action,omitempty"`
	Cropped bool       `json:"cropped"`
}

type gesture struct {
	id     string
	action Action
	grab   types.Point // drag: pointer offset from the crop origin
	last   types.Point // resize: previous pointer position
	before types.Rect
}

// View edits the active registry entry.
type View struct {
	mu        sync.Mutex
	reg       *registry.Registry
	raster    *cropper.Rasterizer
	proc      *processing.Processor
	suggester vision.Suggester
	logger    *slog.Logger

	config  Config
	gesture *gesture
}

// New creates a view over reg. A nil suggester means vision.CenterSuggester.
func New(reg *registry.Registry, raster *cropper.Rasterizer, proc *processing.Processor, suggester vision.Suggester, config Config, logger *slog.Logger) *View {
	if config.MinSize <= 0 {
		config.MinSize = transform.DefaultMinSize
	}
	if config.Container.Width <= 0 || config.Container.Height <= 0 {
		config.Container = reg.Options().Container
	}
	if suggester == nil {
		suggester = vision.CenterSuggester{Ratio: reg.Options().CropRatio}
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg.SetContainer(config.Container)
	return &View{reg: reg, raster: raster, proc: proc, suggester: suggester, logger: logger, config: config}
}

// Registry returns the registry the view edits.
func (v *View) Registry() *registry.Registry {
	return v.reg
}

// Extension is the file extension of cropped output.
func (v *View) Extension() string {
	return v.raster.Extension()
}

// Container returns the current preview area.
func (v *View) Container() types.Size {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.config.Container
}

// SetContainer resizes the preview area. Any gesture in progress ends, since
// its display coordinates no longer apply.
func (v *View) SetContainer(size types.Size) (State, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return v.State(), ErrInvalidContainer
	}
	v.mu.Lock()
	v.config.Container = size
	v.gesture = nil
	v.mu.Unlock()

	v.reg.SetContainer(size)
	return v.State(), nil
}

// State derives the display state of the active entry.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *View) stateLocked() State {
	st := State{Container: v.config.Container}
	if v.gesture != nil {
		st.Action = v.gesture.action
	}
	e, ok := v.reg.Active()
	if !ok {
		return st
	}
	scale := v.scale(e)
	st.ActiveID = e.ID
	st.Name = e.DisplayName
	st.Scale = scale
	st.Display = transform.DisplaySize(float64(e.OriginalWidth), float64(e.OriginalHeight), scale)
	st.Crop = transform.ToDisplay(e.CropRegion, scale)
	st.Region = e.CropRegion
	st.Cropped = e.Cropped != nil
	return st
}

func (v *View) scale(e registry.Entry) float64 {
	return transform.ComputeScale(float64(e.OriginalWidth), float64(e.OriginalHeight), v.config.Container.Width, v.config.Container.Height)
}

// PointerDown starts a gesture at p on the active entry. It reports false when
// there is nothing to edit.
func (v *View) PointerDown(action Action, p types.Point) (State, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.reg.Active()
	if !ok || (action != ActionDrag && action != ActionResize) || v.scale(e) == 0 {
		return v.stateLocked(), false
	}
	crop := transform.ToDisplay(e.CropRegion, v.scale(e))
	v.gesture = &gesture{
		id:     e.ID,
		action: action,
		grab:   types.Point{X: p.X - crop.X, Y: p.Y - crop.Y},
		last:   p,
		before: e.CropRegion,
	}
	return v.stateLocked(), true
}

// PointerMove advances the current gesture to p. Without a gesture it does nothing.
func (v *View) PointerMove(p types.Point) (State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	g := v.gesture
	if g == nil {
		return v.stateLocked(), nil
	}
	e, ok := v.reg.Get(g.id)
	if !ok {
		v.gesture = nil
		return v.stateLocked(), registry.ErrNotFound
	}

	scale := v.scale(e)
	display := transform.DisplaySize(float64(e.OriginalWidth), float64(e.OriginalHeight), scale)
	crop := transform.ToDisplay(e.CropRegion, scale)

	var next types.Rect
	switch g.action {
	case ActionDrag:
		next = transform.ClampDrag(types.Point{X: p.X - g.grab.X, Y: p.Y - g.grab.Y}, display, crop.Size())
	case ActionResize:
		delta := math.Max(p.X-g.last.X, p.Y-g.last.Y)
		next = transform.ClampResize(crop, delta, display, v.config.MinSize)
		g.last = p
	}

	region := transform.ClampToBounds(transform.ToOriginal(next, scale), float64(e.OriginalWidth), float64(e.OriginalHeight))
	if err := v.reg.UpdateCropRegion(e.ID, region); err != nil {
		return v.stateLocked(), fmt.Errorf("updating crop region: %w", err)
	}
	return v.stateLocked(), nil
}

// PointerUp ends the current gesture, keeping its result.
func (v *View) PointerUp() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gesture = nil
	return v.stateLocked()
}

// Cancel ends the current gesture and restores the region it started from.
func (v *View) Cancel() (State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	g := v.gesture
	v.gesture = nil
	if g == nil {
		return v.stateLocked(), nil
	}
	if err := v.reg.UpdateCropRegion(g.id, g.before); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return v.stateLocked(), err
	}
	return v.stateLocked(), nil
}

// ResetCrop restores the default centered crop of the active entry.
func (v *View) ResetCrop() (State, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.reg.ActiveID()
	if id == "" {
		return v.stateLocked(), ErrNoActiveImage
	}
	v.gesture = nil
	if err := v.reg.ResetCropRegion(id); err != nil {
		return v.stateLocked(), err
	}
	return v.stateLocked(), nil
}

// Crop rasterizes the active entry. A non-empty name renames it first. The
// boolean is false when there is no active entry.
func (v *View) Crop(ctx context.Context, name string) (types.Raster, bool, error) {
	id := v.reg.ActiveID()
	if id == "" {
		return types.Raster{}, false, nil
	}
	raster, err := v.CropEntry(ctx, id, name)
	return raster, err == nil, err
}

// CropEntry rasterizes entry id at native resolution and stores the result.
func (v *View) CropEntry(ctx context.Context, id, name string) (types.Raster, error) {
	if err := ctx.Err(); err != nil {
		return types.Raster{}, err
	}
	if name != "" {
		if err := v.reg.Rename(id, name); err != nil {
			return types.Raster{}, err
		}
	}
	// The region can move while the pixels are copied. A result is only kept
	// for the region it was cut from, so re-cut until one sticks.
	for attempt := 1; ; attempt++ {
		e, ok := v.reg.Get(id)
		if !ok {
			return types.Raster{}, registry.ErrNotFound
		}

		raster, err := v.raster.Crop(e.Source, e.CropRegion)
		if err != nil {
			return types.Raster{}, fmt.Errorf("cropping %s: %w", e.DisplayName, err)
		}
		if err := ctx.Err(); err != nil {
			return types.Raster{}, err
		}

		err = v.reg.SetCroppedResultFor(id, e.CropRegion, raster)
		switch {
		case err == nil:
			v.logger.Info("Cropped image", "id", id, "name", e.DisplayName, "width", raster.Width, "height", raster.Height, "bytes", len(raster.Data))
			return raster, nil
		case errors.Is(err, registry.ErrStale) && attempt < maxCropAttempts:
			v.logger.Debug("Crop region moved during crop, retrying", "id", id, "attempt", attempt)
		default:
			return types.Raster{}, err
		}
	}
}

// Suggest asks the suggester for a square region and applies it to the active entry.
func (v *View) Suggest(ctx context.Context) (State, error) {
	e, ok := v.reg.Active()
	if !ok {
		return v.State(), ErrNoActiveImage
	}

	region, err := v.suggester.Suggest(ctx, e.Source)
	if err != nil {
		return v.State(), fmt.Errorf("suggesting crop: %w", err)
	}
	region = transform.ClampToBounds(region, float64(e.OriginalWidth), float64(e.OriginalHeight))

	v.mu.Lock()
	defer v.mu.Unlock()
	v.gesture = nil
	if err := v.reg.UpdateCropRegion(e.ID, region); err != nil {
		return v.stateLocked(), err
	}
	v.logger.Debug("Applied suggested crop", "id", e.ID, "region", region)
	return v.stateLocked(), nil
}

// Preview renders the active entry as displayed, with the crop box drawn, as PNG.
func (v *View) Preview(ctx context.Context) ([]byte, error) {
	e, ok := v.reg.Active()
	if !ok {
		return nil, ErrNoActiveImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.proc.EncodePNG(v.proc.RenderOverlay(e.Source, e.CropRegion, v.Container()))
}
