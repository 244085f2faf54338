// Package transform maps crop rectangles between original-pixel space and
// the scaled-to-fit display space, and clamps interactive moves and resizes
// to the visible image. Every function is pure.
package transform

import (
	"math"

	"github.com/menta2k/squarecrop/pkg/types"
)

// DefaultMinSize is the smallest crop handle, in display pixels, a resize can produce.
const DefaultMinSize = 50.0

// DefaultCropRatio is the share of the smaller display side covered by a new crop region.
const DefaultCropRatio = 0.6

// ToDisplay converts a rectangle from original-pixel space to display space.
func ToDisplay(r types.Rect, scale float64) types.Rect {
	return types.Rect{
		X:      r.X * scale,
		Y:      r.Y * scale,
		Width:  r.Width * scale,
		Height: r.Height * scale,
	}
}

// ToOriginal converts a rectangle from display space back to original-pixel space.
// scale must be positive.
func ToOriginal(r types.Rect, scale float64) types.Rect {
	return types.Rect{
		X:      r.X / scale,
		Y:      r.Y / scale,
		Width:  r.Width / scale,
		Height: r.Height / scale,
	}
}

// ComputeScale returns the factor that fits a naturalW x naturalH image entirely
// inside the container on both axes. It returns 0 for degenerate input.
func ComputeScale(naturalW, naturalH, containerW, containerH float64) float64 {
	if naturalW <= 0 || naturalH <= 0 || containerW <= 0 || containerH <= 0 {
		return 0
	}
	return math.Min(containerW/naturalW, containerH/naturalH)
}

// DisplaySize is the on-screen size of an image drawn at scale.
func DisplaySize(naturalW, naturalH, scale float64) types.Size {
	return types.Size{Width: naturalW * scale, Height: naturalH * scale}
}

// ClampDrag positions a rectangle of rectSize at proposed, keeping it inside display.
func ClampDrag(proposed types.Point, display, rectSize types.Size) types.Rect {
	return types.Rect{
		X:      clamp(proposed.X, 0, display.Width-rectSize.Width),
		Y:      clamp(proposed.Y, 0, display.Height-rectSize.Height),
		Width:  rectSize.Width,
		Height: rectSize.Height,
	}
}

// ClampResize grows current by delta on both axes so it stays square. The new side
// is capped by the room left to the right and below the origin, then floored at minSize.
func ClampResize(current types.Rect, delta float64, display types.Size, minSize float64) types.Rect {
	side := math.Min(current.Width+delta, math.Min(display.Width-current.X, display.Height-current.Y))
	side = math.Max(minSize, side)
	return types.Rect{X: current.X, Y: current.Y, Width: side, Height: side}
}

// DefaultCrop returns the centered square covering ratio of the smaller display side.
func DefaultCrop(display types.Size, ratio float64) types.Rect {
	side := math.Min(display.Width, display.Height) * ratio
	return types.Rect{
		X:      (display.Width - side) / 2,
		Y:      (display.Height - side) / 2,
		Width:  side,
		Height: side,
	}
}

// InitialRegion computes the default crop for a naturalW x naturalH image shown in the
// container, expressed in original-pixel space.
func InitialRegion(naturalW, naturalH float64, container types.Size, ratio float64) types.Rect {
	scale := ComputeScale(naturalW, naturalH, container.Width, container.Height)
	if scale == 0 {
		side := math.Min(naturalW, naturalH) * ratio
		return types.Rect{X: (naturalW - side) / 2, Y: (naturalH - side) / 2, Width: side, Height: side}
	}
	display := DisplaySize(naturalW, naturalH, scale)
	return ClampToBounds(ToOriginal(DefaultCrop(display, ratio), scale), naturalW, naturalH)
}

// ClampToBounds trims float drift so that r lies within [0,0]x[w,h].
// Size is reduced only when it exceeds the bounds outright.
func ClampToBounds(r types.Rect, w, h float64) types.Rect {
	r.Width = clamp(r.Width, 0, w)
	r.Height = clamp(r.Height, 0, h)
	r.X = clamp(r.X, 0, w-r.Width)
	r.Y = clamp(r.Y, 0, h-r.Height)
	return r
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
