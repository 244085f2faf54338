// Package export persists cropped results. A preferred destination (save-as or a
// chosen directory) is tried first; cancellation stops quietly and any other
// failure falls back to the default-location destination.
package export

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/menta2k/squarecrop/internal/utils"
	"github.com/menta2k/squarecrop/pkg/registry"
)

// ErrCanceled is returned by destinations and pickers when the user backs out.
var ErrCanceled = errors.New("export canceled")

// DefaultDelay spaces out sequential single-file deliveries.
const DefaultDelay = 100 * time.Millisecond

// Destination stores one named file.
type Destination interface {
	Save(ctx context.Context, name string, data []byte) error
}

// DirectoryPicker asks for a directory to receive a whole batch.
type DirectoryPicker interface {
	PickDirectory(ctx context.Context) (Destination, error)
}

// DestinationFunc adapts a function to Destination.
type DestinationFunc func(ctx context.Context, name string, data []byte) error

// Save calls f.
func (f DestinationFunc) Save(ctx context.Context, name string, data []byte) error {
	return f(ctx, name, data)
}

// PickerFunc adapts a function to DirectoryPicker.
type PickerFunc func(ctx context.Context) (Destination, error)

// PickDirectory calls f.
func (f PickerFunc) PickDirectory(ctx context.Context) (Destination, error) {
	return f(ctx)
}

// DirDestination writes files into a directory.
type DirDestination struct {
	Dir string
	// Overwrite replaces existing files instead of picking a free " (n)" name.
	Overwrite bool
}

// Save writes data to Dir/name.
func (d DirDestination) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := utils.EnsureDir(d.Dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(d.Dir, filepath.Base(name))
	if !d.Overwrite {
		path = utils.UniquePath(path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ZipDestination appends files to a zip archive stream. Like DirDestination
// it never stores two entries under one name.
type ZipDestination struct {
	mu    sync.Mutex
	zw    *zip.Writer
	names map[string]bool
}

// NewZipDestination writes an archive to w. Close must be called to finish it.
func NewZipDestination(w io.Writer) *ZipDestination {
	return &ZipDestination{zw: zip.NewWriter(w), names: map[string]bool{}}
}

// Save adds name to the archive, as "name (n).ext" when name is already taken.
func (z *ZipDestination) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	name = utils.UniqueName(name, func(candidate string) bool { return z.names[candidate] })
	z.names[name] = true
	f, err := z.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

// Close finishes the archive.
func (z *ZipDestination) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.zw.Close()
}

// Report describes how far an export got.
type Report struct {
	Written  []string `json:"written"`
	Skipped  []string `json:"skipped,omitempty"`
	Canceled bool     `json:"canceled"`
	Fallback bool     `json:"fallback"`
}

// Exporter writes cropped results named "<display name>.<ext>".
type Exporter struct {
	// Preferred is the save-as path for single files. Optional.
	Preferred Destination
	// Picker chooses a directory for batches. Optional.
	Picker DirectoryPicker
	// Fallback is the default-location path. Required.
	Fallback Destination
	// Extension of written files, without the dot.
	Extension string
	// DefaultName is used when a display name sanitizes to nothing.
	DefaultName string
	// Delay spaces out sequential fallback deliveries.
	Delay time.Duration

	Logger *slog.Logger
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Exporter) fileName(entry registry.Entry) string {
	ext := e.Extension
	if ext == "" {
		ext = "jpeg"
	}
	fallback := e.DefaultName
	if fallback == "" {
		fallback = registry.DefaultName
	}
	return utils.OutputName(entry.DisplayName, ext, fallback)
}

// Save delivers one entry. Entries without a cropped result are ignored.
func (e *Exporter) Save(ctx context.Context, entry registry.Entry) (Report, error) {
	var rep Report
	if entry.Cropped == nil {
		rep.Skipped = append(rep.Skipped, entry.ID)
		return rep, nil
	}
	name := e.fileName(entry)

	if e.Preferred != nil {
		err := e.Preferred.Save(ctx, name, entry.Cropped.Data)
		switch {
		case err == nil:
			rep.Written = append(rep.Written, name)
			return rep, nil
		case isCanceled(err):
			rep.Canceled = true
			return rep, nil
		default:
			e.logger().Error("Preferred destination failed, using fallback", "name", name, "error", err)
			rep.Fallback = true
		}
	}

	if err := e.Fallback.Save(ctx, name, entry.Cropped.Data); err != nil {
		return rep, fmt.Errorf("failed to save %s: %w", name, err)
	}
	rep.Written = append(rep.Written, name)
	return rep, nil
}

// SaveAll delivers every entry with a cropped result. With a Picker the whole
// batch goes into the chosen directory; otherwise, or when the picker or a write
// fails for a reason other than cancellation, entries go one at a time through
// Fallback, Delay apart. Cancellation keeps what was already written and stops.
func (e *Exporter) SaveAll(ctx context.Context, entries []registry.Entry) (Report, error) {
	var rep Report
	var ready []registry.Entry
	for _, entry := range entries {
		if entry.Cropped == nil {
			rep.Skipped = append(rep.Skipped, entry.ID)
			continue
		}
		ready = append(ready, entry)
	}
	if len(ready) == 0 {
		return rep, nil
	}

	if e.Picker != nil {
		dir, err := e.Picker.PickDirectory(ctx)
		if err == nil {
			err = e.writeAll(ctx, dir, ready, &rep)
		}
		switch {
		case err == nil:
			return rep, nil
		case isCanceled(err):
			rep.Canceled = true
			return rep, nil
		default:
			e.logger().Error("Directory export failed, using fallback", "error", err, "written", len(rep.Written))
			rep.Fallback = true
		}
	}

	// Entries are written in order, so anything already written is a prefix of ready.
	if err := e.writeAll(ctx, e.Fallback, ready[len(rep.Written):], &rep); err != nil {
		if isCanceled(err) {
			rep.Canceled = true
			return rep, nil
		}
		return rep, err
	}
	return rep, nil
}

func (e *Exporter) writeAll(ctx context.Context, dst Destination, entries []registry.Entry, rep *Report) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if e.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.Delay), 1)
	}

	for _, entry := range entries {
		if err := wait(ctx, limiter); err != nil {
			return err
		}
		name := e.fileName(entry)
		if err := dst.Save(ctx, name, entry.Cropped.Data); err != nil {
			return err
		}
		rep.Written = append(rep.Written, name)
		e.logger().Debug("Exported crop", "name", name, "bytes", len(entry.Cropped.Data))
	}
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// wait blocks for the limiter's next slot. Unlike rate.Limiter.Wait it always
// reports interruption as ctx.Err().
func wait(ctx context.Context, limiter *rate.Limiter) error {
	r := limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
