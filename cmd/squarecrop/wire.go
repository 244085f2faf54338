package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/menta2k/squarecrop/internal/config"
	"github.com/menta2k/squarecrop/pkg/client"
	"github.com/menta2k/squarecrop/pkg/cropper"
	"github.com/menta2k/squarecrop/pkg/detection"
	"github.com/menta2k/squarecrop/pkg/editor"
	"github.com/menta2k/squarecrop/pkg/export"
	"github.com/menta2k/squarecrop/pkg/intake"
	"github.com/menta2k/squarecrop/pkg/llamacpp"
	"github.com/menta2k/squarecrop/pkg/ollama"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/registry"
	"github.com/menta2k/squarecrop/pkg/types"
	"github.com/menta2k/squarecrop/pkg/vision"
)

// session is one registry with everything that operates on it.
type session struct {
	registry  *registry.Registry
	processor *processing.Processor
	view      *editor.View
	intake    *intake.Intake
	suggester vision.Suggester
	detector  *detection.Detector
}

func newSession(cfg *config.Config, logger *slog.Logger) (*session, error) {
	container := types.Size{Width: cfg.View.ContainerWidth, Height: cfg.View.ContainerHeight}
	reg := registry.New(registry.Options{
		Container:   container,
		CropRatio:   cfg.View.CropRatio,
		DefaultName: cfg.Output.DefaultName,
	})
	proc := processing.NewProcessor()
	raster := cropper.NewWithConfig(cropper.CropConfig{
		Format:   cfg.Output.Format,
		Quality:  cfg.Output.Quality,
		Lossless: cfg.Output.Lossless,
	})

	s := &session{registry: reg, processor: proc}
	if err := s.buildSuggester(cfg, logger); err != nil {
		return nil, err
	}

	s.view = editor.New(reg, raster, proc, s.suggester, editor.Config{Container: container, MinSize: cfg.View.MinCropSize}, logger)
	s.intake = intake.NewWithConfig(proc, reg, logger, intake.Config{
		MaxConcurrency: cfg.Intake.MaxConcurrency,
		MinImageSize:   cfg.Intake.MinImageSize,
	})
	return s, nil
}

func (s *session) buildSuggester(cfg *config.Config, logger *slog.Logger) error {
	center := vision.CenterSuggester{Ratio: cfg.View.CropRatio}
	switch cfg.Suggest.Backend {
	case config.SuggestNone:
		s.suggester = center
	case config.SuggestSmartcrop:
		s.suggester = vision.NewSmartSuggester(imaging.Lanczos)
	case config.SuggestOllama, config.SuggestLlamacpp:
		vc, err := newVisionClient(cfg.Suggest)
		if err != nil {
			return err
		}
		s.detector = detection.NewDetector(vc, cfg.Suggest.Model)
		s.suggester = vision.NewSubjectSuggester(s.detector, s.processor, vision.SubjectConfig{
			SendSize: cfg.Suggest.SendSize,
			Zoom:     cfg.Suggest.Zoom,
		}, center, logger)
	default:
		return fmt.Errorf("unknown suggest backend %q", cfg.Suggest.Backend)
	}
	return nil
}

func newVisionClient(cfg config.SuggestConfig) (client.VisionClient, error) {
	if cfg.Backend == config.SuggestLlamacpp {
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	}
	c, err := ollama.NewClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return c, nil
}

// exporter writes into dir when set, otherwise into the configured export
// directory, falling back to the configured fallback directory.
func newExporter(cfg *config.Config, view *editor.View, dir string, logger *slog.Logger) *export.Exporter {
	ex := &export.Exporter{
		Fallback:    export.DirDestination{Dir: cfg.Export.FallbackDir, Overwrite: cfg.Export.Overwrite},
		Extension:   view.Extension(),
		DefaultName: cfg.Output.DefaultName,
		Delay:       cfg.Export.Delay,
		Logger:      logger,
	}
	if dir == "" {
		dir = cfg.Export.Dir
	}
	if dir != "" {
		dst := export.DirDestination{Dir: dir, Overwrite: cfg.Export.Overwrite}
		ex.Picker = export.PickerFunc(func(ctx context.Context) (export.Destination, error) {
			return dst, nil
		})
	}
	return ex
}
