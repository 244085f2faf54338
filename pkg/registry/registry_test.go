package registry

import (
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/squarecrop/pkg/types"
)

// createTestImage creates a solid test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{64, 128, 192, 255})
		}
	}
	return img
}

func newRegistry() *Registry {
	return New(Options{Container: types.Size{Width: 800, Height: 400}})
}

func TestAddInitializesEntry(t *testing.T) {
	r := newRegistry()

	id, err := r.Add(createTestImage(1000, 500), "holiday.photo.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "holiday.photo", e.DisplayName)
	assert.Equal(t, 1000, e.OriginalWidth)
	assert.Equal(t, 500, e.OriginalHeight)
	assert.Nil(t, e.Cropped)
	assert.InDelta(t, 350, e.CropRegion.X, 1e-6)
	assert.InDelta(t, 100, e.CropRegion.Y, 1e-6)
	assert.InDelta(t, 300, e.CropRegion.Width, 1e-6)
	assert.InDelta(t, 300, e.CropRegion.Height, 1e-6)
}

func TestAddActivatesOnlyFirst(t *testing.T) {
	r := newRegistry()

	first, err := r.Add(createTestImage(100, 100), "a.png")
	require.NoError(t, err)
	second, err := r.Add(createTestImage(100, 100), "b.png")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, first, r.ActiveID())

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
}

func TestAddRejectsEmptyImage(t *testing.T) {
	r := newRegistry()
	_, err := r.Add(nil, "x.png")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestSetActive(t *testing.T) {
	r := newRegistry()
	a, _ := r.Add(createTestImage(10, 10), "a.png")
	b, _ := r.Add(createTestImage(10, 10), "b.png")

	assert.True(t, r.SetActive(b))
	assert.Equal(t, b, r.ActiveID())

	assert.False(t, r.SetActive("missing"))
	assert.Equal(t, b, r.ActiveID(), "unknown id is a no-op")

	assert.True(t, r.SetActive(a))
	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, a, active.ID)
}

func TestUpdateCropRegionClearsCroppedResult(t *testing.T) {
	r := newRegistry()
	id, _ := r.Add(createTestImage(1000, 1000), "a.png")

	require.NoError(t, r.SetCroppedResult(id, types.Raster{Data: []byte{1}, Width: 1, Height: 1}))
	e, _ := r.Get(id)
	require.NotNil(t, e.Cropped)

	region := types.Rect{X: 100, Y: 100, Width: 200, Height: 200}
	require.NoError(t, r.UpdateCropRegion(id, region))

	e, _ = r.Get(id)
	assert.Nil(t, e.Cropped)
	assert.Equal(t, region, e.CropRegion)
}

func TestSetCroppedResultForRejectsMovedRegion(t *testing.T) {
	r := newRegistry()
	id, _ := r.Add(createTestImage(1000, 1000), "a.png")
	e, _ := r.Get(id)
	cutFrom := e.CropRegion

	require.NoError(t, r.UpdateCropRegion(id, types.Rect{X: 0, Y: 0, Width: 100, Height: 100}))
	err := r.SetCroppedResultFor(id, cutFrom, types.Raster{Data: []byte{1}, Width: 600, Height: 600})
	assert.ErrorIs(t, err, ErrStale)
	e, _ = r.Get(id)
	assert.Nil(t, e.Cropped)

	require.NoError(t, r.SetCroppedResultFor(id, e.CropRegion, types.Raster{Data: []byte{1}, Width: 100, Height: 100}))
	e, _ = r.Get(id)
	require.NotNil(t, e.Cropped)
	assert.Equal(t, 100, e.Cropped.Width)

	assert.ErrorIs(t, r.SetCroppedResultFor("missing", cutFrom, types.Raster{}), ErrNotFound)
}

func TestUpdateCropRegionValidates(t *testing.T) {
	r := newRegistry()
	id, _ := r.Add(createTestImage(100, 100), "a.png")

	assert.ErrorIs(t, r.UpdateCropRegion("missing", types.Rect{Width: 1, Height: 1}), ErrNotFound)
	assert.ErrorIs(t, r.UpdateCropRegion(id, types.Rect{X: 50, Y: 0, Width: 60, Height: 60}), ErrOutOfBounds)
	assert.ErrorIs(t, r.UpdateCropRegion(id, types.Rect{X: 0, Y: 0, Width: 0, Height: 10}), ErrOutOfBounds)

	require.NoError(t, r.UpdateCropRegion(id, types.Rect{X: 40.0000000001, Y: 0, Width: 60, Height: 60}))
	e, _ := r.Get(id)
	assert.LessOrEqual(t, e.CropRegion.Right(), 100.0)
}

func TestRenameKeepsCroppedResult(t *testing.T) {
	r := newRegistry()
	id, _ := r.Add(createTestImage(10, 10), "a.png")
	require.NoError(t, r.SetCroppedResult(id, types.Raster{Data: []byte{1}}))

	require.NoError(t, r.Rename(id, "portrait"))
	e, _ := r.Get(id)
	assert.Equal(t, "portrait", e.DisplayName)
	assert.NotNil(t, e.Cropped)

	require.NoError(t, r.Rename(id, "   "))
	e, _ = r.Get(id)
	assert.Equal(t, DefaultName, e.DisplayName)

	assert.ErrorIs(t, r.Rename("missing", "x"), ErrNotFound)
}

func TestResetCropRegion(t *testing.T) {
	r := newRegistry()
	id, _ := r.Add(createTestImage(1000, 500), "a.png")
	initial, _ := r.Get(id)

	require.NoError(t, r.UpdateCropRegion(id, types.Rect{X: 0, Y: 0, Width: 50, Height: 50}))
	require.NoError(t, r.SetCroppedResult(id, types.Raster{Data: []byte{1}}))
	require.NoError(t, r.ResetCropRegion(id))

	e, _ := r.Get(id)
	assert.Equal(t, initial.CropRegion, e.CropRegion)
	assert.Nil(t, e.Cropped)
}

func TestRemoveActiveRetargets(t *testing.T) {
	r := newRegistry()
	a, _ := r.Add(createTestImage(10, 10), "a.png")
	b, _ := r.Add(createTestImage(10, 10), "b.png")
	c, _ := r.Add(createTestImage(10, 10), "c.png")

	r.SetActive(b)
	require.NoError(t, r.Remove(b))
	assert.Equal(t, a, r.ActiveID(), "first remaining entry becomes active")

	require.NoError(t, r.Remove(c))
	assert.Equal(t, a, r.ActiveID(), "removing an inactive entry keeps the selection")

	require.NoError(t, r.Remove(a))
	assert.Equal(t, "", r.ActiveID())
	_, ok := r.Active()
	assert.False(t, ok)

	assert.ErrorIs(t, r.Remove(a), ErrNotFound)
}

func TestClear(t *testing.T) {
	r := newRegistry()
	r.Add(createTestImage(10, 10), "a.png")
	r.Add(createTestImage(10, 10), "b.png")

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", r.ActiveID())
}

func TestCroppedFiltersEntries(t *testing.T) {
	r := newRegistry()
	a, _ := r.Add(createTestImage(10, 10), "a.png")
	r.Add(createTestImage(10, 10), "b.png")
	c, _ := r.Add(createTestImage(10, 10), "c.png")

	require.NoError(t, r.SetCroppedResult(c, types.Raster{Data: []byte{1}}))
	require.NoError(t, r.SetCroppedResult(a, types.Raster{Data: []byte{2}}))

	got := r.Cropped()
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].ID)
	assert.Equal(t, c, got[1].ID)
}

func TestActiveAlwaysResolves(t *testing.T) {
	r := newRegistry()
	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := r.Add(createTestImage(10, 10), "x.png")
		ids = append(ids, id)
	}

	for _, id := range []string{ids[0], ids[3], ids[1], ids[4], ids[2]} {
		require.NoError(t, r.Remove(id))
		active := r.ActiveID()
		if r.Len() == 0 {
			assert.Empty(t, active)
			continue
		}
		_, ok := r.Get(active)
		assert.True(t, ok, "active id %q must resolve", active)
	}
}

func TestSubscribe(t *testing.T) {
	r := newRegistry()
	var mu sync.Mutex
	var kinds []EventKind
	r.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	id, _ := r.Add(createTestImage(10, 10), "a.png")
	_ = r.Rename(id, "b")
	r.Clear()

	assert.Equal(t, []EventKind{EventAdded, EventActivated, EventUpdated, EventCleared}, kinds)
}

func TestConcurrentAdd(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Add(createTestImage(20, 20), "x.png")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
	seen := map[string]bool{}
	for _, e := range r.List() {
		assert.False(t, seen[e.ID], "duplicate id")
		seen[e.ID] = true
	}
	assert.NotEmpty(t, r.ActiveID())
}

func TestBaseName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"photo.jpg", "photo"},
		{"dir/sub/photo.final.png", "photo.final"},
		{`C:\pics\cat.webp`, "cat"},
		// extensionless names are kept rather than replaced by the default
		{"noext", "noext"},
		{"photo", "photo"},
		{".jpg", "fallback"},
		{"", "fallback"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseName(tt.in, "fallback"), tt.in)
	}
}
