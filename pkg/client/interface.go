// Package client defines the contract between subject detection and the
// vision model backends that answer it.
package client

import (
	"context"

	"github.com/menta2k/squarecrop/pkg/types"
)

// VisionClient sends one image and a prompt to a vision model.
type VisionClient interface {
	// SimpleQuery returns the model's free-form answer.
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// AnalyzeImage expects a JSON answer shaped like types.AnalysisResult.
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}
