package vision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/squarecrop/pkg/detection"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/types"
)

// createTestImage draws a busy checkerboard in the right third of a flat background.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{40, 60, 80, 255}
			if x > 2*width/3 && (x/4+y/4)%2 == 0 {
				c = color.RGBA{250, 220, 180, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func assertSquareWithin(t *testing.T, r types.Rect, w, h float64) {
	t.Helper()
	assert.InDelta(t, r.Width, r.Height, 1e-9, "suggestion must be square")
	assert.Greater(t, r.Width, 0.0)
	assert.True(t, r.Within(w, h, 1e-9), "suggestion %+v outside %vx%v", r, w, h)
}

func assertRect(t *testing.T, want, got types.Rect) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
	assert.InDelta(t, want.Width, got.Width, 1e-9, "width")
	assert.InDelta(t, want.Height, got.Height, 1e-9, "height")
}

func TestCenterSuggester(t *testing.T) {
	r, err := CenterSuggester{}.Suggest(context.Background(), createTestImage(1000, 500))
	require.NoError(t, err)
	assertRect(t, types.Rect{X: 350, Y: 100, Width: 300, Height: 300}, r)

	r, err = CenterSuggester{Ratio: 1}.Suggest(context.Background(), createTestImage(300, 600))
	require.NoError(t, err)
	assertRect(t, types.Rect{X: 0, Y: 150, Width: 300, Height: 300}, r)
}

func TestSmartSuggester(t *testing.T) {
	s := NewSmartSuggester(imaging.Box)
	for _, size := range [][2]int{{300, 150}, {120, 240}, {200, 200}} {
		r, err := s.Suggest(context.Background(), createTestImage(size[0], size[1]))
		require.NoError(t, err)
		assertSquareWithin(t, r, float64(size[0]), float64(size[1]))
	}
}

func TestSmartSuggesterCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSmartSuggester(imaging.Box).Suggest(ctx, createTestImage(50, 50))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSquareWithin(t *testing.T) {
	r := squareWithin(image.Rect(10, 0, 110, 60), 100, 60)
	assert.Equal(t, types.Rect{X: 30, Y: 0, Width: 60, Height: 60}, r)
}

func TestSquareAround(t *testing.T) {
	tests := []struct {
		name string
		p    types.Primary
		zoom float64
		want types.Rect
	}{
		{
			name: "pushed inside right edge",
			p:    types.Primary{Box: types.Box{X: 0.7, Y: 0.2, W: 0.2, H: 0.5}, Cx: 0.8, Cy: 0.45},
			zoom: 1,
			want: types.Rect{X: 200, Y: 0, Width: 200, Height: 200},
		},
		{
			name: "zoomed around the center",
			p:    types.Primary{Box: types.Box{X: 0.45, Y: 0.45, W: 0.1, H: 0.1}, Cx: 0.5, Cy: 0.5},
			zoom: 0.5,
			want: types.Rect{X: 150, Y: 50, Width: 100, Height: 100},
		},
		{
			name: "grows to hold the subject",
			p:    types.Primary{Box: types.Box{X: 0.25, Y: 0.1, W: 0.375, H: 0.8}, Cx: 0.5, Cy: 0.5},
			zoom: 0.5,
			want: types.Rect{X: 120, Y: 20, Width: 160, Height: 160},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertRect(t, tt.want, SquareAround(tt.p, 400, 200, tt.zoom))
		})
	}
}

type fakeClient struct {
	result *types.AnalysisResult
	calls  int
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "", nil
}

func (f *fakeClient) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error) {
	f.calls++
	r := *f.result
	return &r, nil
}

func TestSubjectSuggester(t *testing.T) {
	fc := &fakeClient{result: &types.AnalysisResult{
		Primary: types.Primary{Label: "dog", Confidence: 0.9, Box: types.Box{X: 0.7, Y: 0.2, W: 0.2, H: 0.5}, Cx: 0.8, Cy: 0.45},
	}}
	s := NewSubjectSuggester(detection.NewDetector(fc, "llava"), processing.NewProcessor(), SubjectConfig{SendSize: 64}, nil, nil)

	r, err := s.Suggest(context.Background(), createTestImage(400, 200))
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls)
	assert.InDelta(t, 200, r.X, 1e-9)
	assert.InDelta(t, 200, r.Width, 1e-9)
	assertSquareWithin(t, r, 400, 200)
}

func TestSubjectSuggesterFallsBack(t *testing.T) {
	fc := &fakeClient{result: &types.AnalysisResult{Primary: types.Primary{Label: "none"}}}
	fallback := SuggesterFunc(func(ctx context.Context, img image.Image) (types.Rect, error) {
		return types.Rect{X: 1, Y: 2, Width: 3, Height: 3}, nil
	})
	s := NewSubjectSuggester(detection.NewDetector(fc, "llava"), processing.NewProcessor(), DefaultSubjectConfig(), fallback, nil)

	r, err := s.Suggest(context.Background(), createTestImage(40, 40))
	require.NoError(t, err)
	assert.Equal(t, types.Rect{X: 1, Y: 2, Width: 3, Height: 3}, r)
}
