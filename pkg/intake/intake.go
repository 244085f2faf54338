// Package intake turns uploaded files into registry entries. Non-image files are
// skipped without error; every entry is fully initialized before it is inserted.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/squarecrop/internal/utils"
	"github.com/menta2k/squarecrop/pkg/processing"
	"github.com/menta2k/squarecrop/pkg/registry"
)

// ErrNotImage marks a file whose content type is not image/*.
var ErrNotImage = errors.New("not an image")

// File is one uploaded payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Failure records a file that looked like an image but could not be decoded.
type Failure struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// Result summarizes a batch.
type Result struct {
	Added   []string  `json:"added"`
	Skipped []string  `json:"skipped,omitempty"`
	Failed  []Failure `json:"failed,omitempty"`
}

// Config holds intake settings
type Config struct {
	MaxConcurrency int
	MinImageSize   int
}

// Intake decodes batches of files into a registry
type Intake struct {
	proc     *processing.Processor
	registry *registry.Registry
	logger   *slog.Logger
	config   Config
}

// New creates an Intake with default configuration
func New(proc *processing.Processor, reg *registry.Registry, logger *slog.Logger) *Intake {
	return NewWithConfig(proc, reg, logger, Config{})
}

// NewWithConfig creates an Intake with custom configuration
func NewWithConfig(proc *processing.Processor, reg *registry.Registry, logger *slog.Logger, config Config) *Intake {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = runtime.NumCPU()
	}
	if config.MinImageSize <= 0 {
		config.MinImageSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{proc: proc, registry: reg, logger: logger, config: config}
}

// Batch decodes files concurrently and adds each decoded image to the registry as
// soon as it is ready, so insertion order follows decode completion. Non-image files
// are skipped silently and undecodable images are logged and reported in Failed.
// The only error returned is ctx's.
func (in *Intake) Batch(ctx context.Context, files []File) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.config.MaxConcurrency)

	for _, f := range files {
		g.Go(func() error {
			id, err := in.one(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Added = append(res.Added, id)
			case errors.Is(err, ErrNotImage):
				res.Skipped = append(res.Skipped, f.Name)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				in.logger.Warn("Skipping undecodable image", "name", f.Name, "error", err)
				res.Failed = append(res.Failed, Failure{Name: f.Name, Err: err.Error()})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	in.logger.Info("Intake batch complete", "added", len(res.Added), "skipped", len(res.Skipped), "failed", len(res.Failed))
	return res, nil
}

func (in *Intake) one(ctx context.Context, f File) (string, error) {
	contentType := processing.SniffContentType(f.ContentType, f.Data)
	if !processing.IsImageContentType(contentType) {
		return "", ErrNotImage
	}

	img, err := in.proc.Decode(ctx, f.Data, contentType)
	if err != nil {
		return "", err
	}
	if b := img.Bounds(); b.Dx() < in.config.MinImageSize || b.Dy() < in.config.MinImageSize {
		return "", fmt.Errorf("image too small: %dx%d (minimum: %d)", b.Dx(), b.Dy(), in.config.MinImageSize)
	}

	return in.registry.Add(img, f.Name)
}

// FilesFromPaths reads every path into a File. Directories are walked for files
// with an image extension; explicitly named files are read as-is and left for
// content sniffing to accept or skip.
func FilesFromPaths(paths []string) ([]File, error) {
	var files []File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		names := []string{p}
		if info.IsDir() {
			if names, err = utils.ListImageFiles(p); err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", p, err)
			}
		}

		for _, name := range names {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			files = append(files, File{Name: filepath.Base(name), Data: data})
		}
	}
	return files, nil
}
