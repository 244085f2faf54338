// Package registry holds the session's uploaded images, their crop regions and
// the active selection. It is the single source of mutable truth: crop regions
// are always stored in original-pixel space.
package registry

import (
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/menta2k/squarecrop/pkg/transform"
	"github.com/menta2k/squarecrop/pkg/types"
)

// ErrNotFound is returned for ids that do not resolve to an entry.
var ErrNotFound = errors.New("image not found")

// ErrOutOfBounds is returned when a crop region does not fit inside its image.
var ErrOutOfBounds = errors.New("crop region outside image bounds")

// ErrStale is returned when a cropped result no longer matches the entry's
// crop region because the region changed while it was being rasterized.
var ErrStale = errors.New("crop region changed during crop")

// DefaultName labels entries whose file name has no usable base name.
const DefaultName = "cropped-image"

// boundsSlack absorbs float drift from display/original conversions.
const boundsSlack = 1e-6

// Entry is one uploaded image.
type Entry struct {
	ID             string
	Source         image.Image
	DisplayName    string
	CropRegion     types.Rect
	Cropped        *types.Raster
	OriginalWidth  int
	OriginalHeight int
}

// Options controls how new entries are initialized.
type Options struct {
	Container   types.Size
	CropRatio   float64
	DefaultName string
}

// DefaultOptions matches the editor's default 600x400 preview area.
func DefaultOptions() Options {
	return Options{
		Container:   types.Size{Width: 600, Height: 400},
		CropRatio:   transform.DefaultCropRatio,
		DefaultName: DefaultName,
	}
}

// Registry is an ordered collection of entries plus the active id.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	opts    Options
	entries []*Entry
	active  string

	listeners []func(Event)
}

// EventKind describes a registry mutation.
type EventKind string

const (
	EventAdded     EventKind = "added"
	EventUpdated   EventKind = "updated"
	EventRemoved   EventKind = "removed"
	EventCleared   EventKind = "cleared"
	EventActivated EventKind = "activated"
)

// Event is delivered to subscribers after each mutation, outside the lock.
type Event struct {
	Kind EventKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.CropRatio <= 0 {
		opts.CropRatio = transform.DefaultCropRatio
	}
	if opts.DefaultName == "" {
		opts.DefaultName = DefaultName
	}
	return &Registry{opts: opts}
}

// Options returns the options new entries are initialized with.
func (r *Registry) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// SetContainer changes the preview size used to size default crop regions.
func (r *Registry) SetContainer(size types.Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Container = size
}

// Subscribe registers fn to be called after every mutation.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Add appends a fully initialized entry for img and returns its id. The entry
// becomes active only when the registry was empty.
func (r *Registry) Add(img image.Image, originalName string) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("image has no pixel data")
	}
	b := img.Bounds()

	r.mu.Lock()
	e := &Entry{
		ID:             uuid.NewString(),
		Source:         img,
		DisplayName:    BaseName(originalName, r.opts.DefaultName),
		OriginalWidth:  b.Dx(),
		OriginalHeight: b.Dy(),
	}
	e.CropRegion = transform.InitialRegion(float64(e.OriginalWidth), float64(e.OriginalHeight), r.opts.Container, r.opts.CropRatio)

	r.entries = append(r.entries, e)
	activated := false
	if len(r.entries) == 1 {
		r.active = e.ID
		activated = true
	}
	r.mu.Unlock()

	r.emit(Event{Kind: EventAdded, ID: e.ID})
	if activated {
		r.emit(Event{Kind: EventActivated, ID: e.ID})
	}
	return e.ID, nil
}

// Get returns a snapshot of the entry with id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.find(id); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// List returns snapshots of all entries in insertion order.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ActiveID returns the active id, or "" when nothing is active.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Active returns a snapshot of the active entry.
func (r *Registry) Active() (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.find(r.active); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// SetActive makes id the active entry. Unknown ids are ignored; the return
// value reports whether id resolved.
func (r *Registry) SetActive(id string) bool {
	r.mu.Lock()
	if r.find(id) == nil {
		r.mu.Unlock()
		return false
	}
	r.active = id
	r.mu.Unlock()

	r.emit(Event{Kind: EventActivated, ID: id})
	return true
}

// UpdateCropRegion replaces the crop region of id and discards any cropped result.
func (r *Registry) UpdateCropRegion(id string, rect types.Rect) error {
	r.mu.Lock()
	e := r.find(id)
	if e == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	if rect.Empty() || !rect.Within(float64(e.OriginalWidth), float64(e.OriginalHeight), boundsSlack) {
		r.mu.Unlock()
		return ErrOutOfBounds
	}
	e.CropRegion = transform.ClampToBounds(rect, float64(e.OriginalWidth), float64(e.OriginalHeight))
	e.Cropped = nil
	r.mu.Unlock()

	r.emit(Event{Kind: EventUpdated, ID: id})
	return nil
}

// ResetCropRegion restores the default centered crop of id.
func (r *Registry) ResetCropRegion(id string) error {
	r.mu.Lock()
	e := r.find(id)
	if e == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	e.CropRegion = transform.InitialRegion(float64(e.OriginalWidth), float64(e.OriginalHeight), r.opts.Container, r.opts.CropRatio)
	e.Cropped = nil
	r.mu.Unlock()

	r.emit(Event{Kind: EventUpdated, ID: id})
	return nil
}

// Rename changes the display name of id. The cropped result is kept.
func (r *Registry) Rename(id, name string) error {
	r.mu.Lock()
	e := r.find(id)
	if e == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	if name = strings.TrimSpace(name); name == "" {
		name = r.opts.DefaultName
	}
	e.DisplayName = name
	r.mu.Unlock()

	r.emit(Event{Kind: EventUpdated, ID: id})
	return nil
}

// SetCroppedResult attaches the rasterized output of id.
func (r *Registry) SetCroppedResult(id string, raster types.Raster) error {
	r.mu.Lock()
	e := r.find(id)
	if e == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	e.Cropped = &raster
	r.mu.Unlock()

	r.emit(Event{Kind: EventUpdated, ID: id})
	return nil
}

// SetCroppedResultFor attaches raster to id only if the entry's crop region is
// still region, the one raster was cut from. Otherwise it returns ErrStale and
// leaves the entry untouched.
func (r *Registry) SetCroppedResultFor(id string, region types.Rect, raster types.Raster) error {
	r.mu.Lock()
	e := r.find(id)
	if e == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.CropRegion != region {
		r.mu.Unlock()
		return ErrStale
	}
	e.Cropped = &raster
	r.mu.Unlock()

	r.emit(Event{Kind: EventUpdated, ID: id})
	return nil
}

// Remove deletes id. When id was active, the first remaining entry becomes
// active, or none when the registry is now empty.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	idx := -1
	for i, e := range r.entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)

	retargeted := false
	if r.active == id {
		r.active = ""
		if len(r.entries) > 0 {
			r.active = r.entries[0].ID
		}
		retargeted = true
	}
	active := r.active
	r.mu.Unlock()

	r.emit(Event{Kind: EventRemoved, ID: id})
	if retargeted {
		r.emit(Event{Kind: EventActivated, ID: active})
	}
	return nil
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.active = ""
	r.mu.Unlock()

	r.emit(Event{Kind: EventCleared})
}

// Cropped returns snapshots of entries that have a cropped result, in order.
func (r *Registry) Cropped() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Cropped != nil {
			out = append(out, *e)
		}
	}
	return out
}

func (r *Registry) find(id string) *Entry {
	if id == "" {
		return nil
	}
	for _, e := range r.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// BaseName strips directories and the last extension from a file name,
// falling back to fallback when nothing is left.
func BaseName(name, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return fallback
	}
	return base
}
