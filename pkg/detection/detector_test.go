package detection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/squarecrop/pkg/types"
)

type fakeClient struct {
	result *types.AnalysisResult
	err    error
	model  string
	prompt string
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.model, f.prompt = model, prompt
	return "a cat", f.err
}

func (f *fakeClient) AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error) {
	f.model, f.prompt = model, prompt
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func TestDetectSubject(t *testing.T) {
	fc := &fakeClient{result: &types.AnalysisResult{
		Primary: types.Primary{Label: "Cat", Confidence: 0.8, Box: types.Box{X: 0.6, Y: -0.1, W: 0.6, H: 0.5}},
		Tags:    []string{"Cat", " cat", "sofa", "", "indoor", "pet", "animal", "grey"},
	}}
	d := NewDetector(fc, "llava")

	res, err := d.DetectSubject(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "llava", fc.model)
	assert.Equal(t, DefaultPrompt, fc.prompt)

	b := res.Primary.Box
	assert.InDelta(t, 0.6, b.X, 1e-9)
	assert.InDelta(t, 0.0, b.Y, 1e-9)
	assert.InDelta(t, 0.4, b.W, 1e-9)
	assert.InDelta(t, 0.5, b.H, 1e-9)
	assert.InDelta(t, 0.8, res.Primary.Cx, 1e-9)
	assert.InDelta(t, 0.25, res.Primary.Cy, 1e-9)
	assert.Equal(t, []string{"cat", "sofa", "indoor", "pet", "animal"}, res.Tags)
}

func TestDetectSubjectKeepsFocusInsideBox(t *testing.T) {
	fc := &fakeClient{result: &types.AnalysisResult{
		Primary: types.Primary{Label: "person", Confidence: 0.9, Box: types.Box{X: 0.2, Y: 0.1, W: 0.4, H: 0.8}, Cx: 0.4, Cy: 0.2},
	}}
	res, err := NewDetector(fc, "m").DetectSubject(context.Background(), "abc")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, res.Primary.Cx, 1e-9)
	assert.InDelta(t, 0.2, res.Primary.Cy, 1e-9)
}

func TestDetectSubjectNone(t *testing.T) {
	tests := []types.AnalysisResult{
		{Primary: types.Primary{Label: "none"}},
		{Primary: types.Primary{Label: "tree", Confidence: 0.1}},
		{Primary: types.Primary{Label: "parse error", Confidence: 0.9}},
		{Primary: types.Primary{Label: "thing", Confidence: 0.9}, Description: "Model returned non-JSON response"},
	}
	for _, tc := range tests {
		fc := &fakeClient{result: &tc}
		_, err := NewDetector(fc, "m").DetectSubject(context.Background(), "abc")
		assert.ErrorIs(t, err, ErrNoSubject, tc.Primary.Label)
	}
}

func TestDetectSubjectClientError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewDetector(&fakeClient{err: boom}, "m").DetectSubject(context.Background(), "abc")
	assert.ErrorIs(t, err, boom)
}

func TestTestVision(t *testing.T) {
	fc := &fakeClient{}
	out, err := NewDetector(fc, "m").TestVision(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "a cat", out)
	assert.Equal(t, SimpleTestPrompt, fc.prompt)
}
