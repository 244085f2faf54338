package transform

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/menta2k/squarecrop/pkg/types"
)

const eps = 1e-9

func assertRectInDelta(t *testing.T, want, got types.Rect) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps, "x")
	assert.InDelta(t, want.Y, got.Y, eps, "y")
	assert.InDelta(t, want.Width, got.Width, eps, "width")
	assert.InDelta(t, want.Height, got.Height, eps, "height")
}

func TestToDisplayToOriginal(t *testing.T) {
	r := types.Rect{X: 350, Y: 100, Width: 300, Height: 300}

	d := ToDisplay(r, 0.8)
	assertRectInDelta(t, types.Rect{X: 280, Y: 80, Width: 240, Height: 240}, d)

	assertRectInDelta(t, r, ToOriginal(d, 0.8))
}

func TestRoundTripLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		r := types.Rect{
			X:      rng.Float64() * 5000,
			Y:      rng.Float64() * 5000,
			Width:  rng.Float64()*5000 + 1,
			Height: rng.Float64()*5000 + 1,
		}
		s := rng.Float64()*4 + 0.01

		got := ToOriginal(ToDisplay(r, s), s)
		assert.InDelta(t, r.X, got.X, 1e-6)
		assert.InDelta(t, r.Y, got.Y, 1e-6)
		assert.InDelta(t, r.Width, got.Width, 1e-6)
		assert.InDelta(t, r.Height, got.Height, 1e-6)
	}
}

func TestComputeScale(t *testing.T) {
	tests := []struct {
		name           string
		nw, nh, cw, ch float64
		want           float64
	}{
		{"landscape fits both axes", 1000, 500, 800, 400, 0.8},
		{"height bound", 1000, 1000, 600, 400, 0.4},
		{"width bound", 2000, 500, 600, 400, 0.3},
		{"upscale small image", 100, 50, 600, 400, 6},
		{"zero natural width", 0, 500, 600, 400, 0},
		{"zero container", 100, 100, 0, 400, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeScale(tt.nw, tt.nh, tt.cw, tt.ch)
			assert.InDelta(t, tt.want, got, eps)
			if got > 0 {
				d := DisplaySize(tt.nw, tt.nh, got)
				assert.LessOrEqual(t, d.Width, tt.cw+eps)
				assert.LessOrEqual(t, d.Height, tt.ch+eps)
			}
		})
	}
}

func TestClampDrag(t *testing.T) {
	display := types.Size{Width: 800, Height: 400}
	size := types.Size{Width: 240, Height: 240}

	tests := []struct {
		name     string
		proposed types.Point
		want     types.Point
	}{
		{"inside", types.Point{X: 100, Y: 50}, types.Point{X: 100, Y: 50}},
		{"negative", types.Point{X: -20, Y: -1}, types.Point{X: 0, Y: 0}},
		{"past right and bottom", types.Point{X: 900, Y: 300}, types.Point{X: 560, Y: 160}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampDrag(tt.proposed, display, size)
			assert.Equal(t, tt.want.X, got.X)
			assert.Equal(t, tt.want.Y, got.Y)
			assert.Equal(t, size.Width, got.Width)
			assert.Equal(t, size.Height, got.Height)
		})
	}
}

func TestClampDragNeverLeavesDisplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	display := types.Size{Width: 600, Height: 337.5}
	for i := 0; i < 1000; i++ {
		side := rng.Float64()*300 + 1
		p := types.Point{X: rng.Float64()*2000 - 1000, Y: rng.Float64()*2000 - 1000}

		got := ClampDrag(p, display, types.Size{Width: side, Height: side})
		assert.GreaterOrEqual(t, got.X, 0.0)
		assert.GreaterOrEqual(t, got.Y, 0.0)
		assert.LessOrEqual(t, got.Right(), display.Width+eps)
		assert.LessOrEqual(t, got.Bottom(), display.Height+eps)
	}
}

func TestClampResize(t *testing.T) {
	display := types.Size{Width: 800, Height: 400}
	current := types.Rect{X: 280, Y: 80, Width: 240, Height: 240}

	t.Run("grow", func(t *testing.T) {
		got := ClampResize(current, 30, display, DefaultMinSize)
		assert.Equal(t, types.Rect{X: 280, Y: 80, Width: 270, Height: 270}, got)
	})

	t.Run("capped by bottom edge", func(t *testing.T) {
		got := ClampResize(current, 500, display, DefaultMinSize)
		assert.Equal(t, 320.0, got.Width)
		assert.Equal(t, got.Width, got.Height)
		assert.LessOrEqual(t, got.Bottom(), display.Height)
	})

	t.Run("floored at minimum", func(t *testing.T) {
		got := ClampResize(current, -1000, display, DefaultMinSize)
		assert.Equal(t, DefaultMinSize, got.Width)
		assert.Equal(t, DefaultMinSize, got.Height)
	})
}

func TestClampResizeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	display := types.Size{Width: 600, Height: 400}
	for i := 0; i < 1000; i++ {
		side := rng.Float64()*300 + DefaultMinSize
		cur := ClampDrag(types.Point{X: rng.Float64() * 600, Y: rng.Float64() * 400}, display, types.Size{Width: side, Height: side})
		delta := rng.Float64()*800 - 400

		got := ClampResize(cur, delta, display, DefaultMinSize)
		assert.GreaterOrEqual(t, got.Width, DefaultMinSize)
		assert.Equal(t, got.Width, got.Height)
	}
}

func TestDefaultCropScenario(t *testing.T) {
	scale := ComputeScale(1000, 500, 800, 400)
	assert.InDelta(t, 0.8, scale, eps)

	display := DisplaySize(1000, 500, scale)
	assert.InDelta(t, 800, display.Width, eps)
	assert.InDelta(t, 400, display.Height, eps)

	d := DefaultCrop(display, DefaultCropRatio)
	assertRectInDelta(t, types.Rect{X: 280, Y: 80, Width: 240, Height: 240}, d)

	o := InitialRegion(1000, 500, types.Size{Width: 800, Height: 400}, DefaultCropRatio)
	assert.InDelta(t, 350, o.X, 1e-6)
	assert.InDelta(t, 100, o.Y, 1e-6)
	assert.InDelta(t, 300, o.Width, 1e-6)
	assert.InDelta(t, 300, o.Height, 1e-6)
}

func TestClampToBounds(t *testing.T) {
	got := ClampToBounds(types.Rect{X: 700.0000001, Y: -0.0000001, Width: 300, Height: 300}, 1000, 500)
	assert.True(t, got.Within(1000, 500, 0))
	assert.Equal(t, 300.0, got.Width)

	got = ClampToBounds(types.Rect{X: 10, Y: 10, Width: 2000, Height: 2000}, 1000, 500)
	assert.Equal(t, types.Rect{X: 0, Y: 0, Width: 1000, Height: 500}, got)
}

func BenchmarkRoundTrip(b *testing.B) {
	r := types.Rect{X: 350, Y: 100, Width: 300, Height: 300}
	for i := 0; i < b.N; i++ {
		_ = ToOriginal(ToDisplay(r, 0.8), 0.8)
	}
}
