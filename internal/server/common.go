package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/menta2k/squarecrop/pkg/cropper"
	"github.com/menta2k/squarecrop/pkg/editor"
	"github.com/menta2k/squarecrop/pkg/registry"
	"github.com/menta2k/squarecrop/pkg/types"
)

// Response helpers
func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		s.logger.Error(message)
	} else {
		s.logger.Debug(message, "status", code)
	}
	http.Error(w, message, code)
}

// writeErr maps domain errors onto status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrOutOfBounds), errors.Is(err, editor.ErrInvalidContainer):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, editor.ErrNoActiveImage), errors.Is(err, cropper.ErrSourceNotLoaded), errors.Is(err, registry.ErrStale):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled):
		code = 499 // client closed request
	}
	s.writeError(w, err.Error(), code)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// imageJSON is the wire form of a registry entry.
type imageJSON struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	CropRegion types.Rect   `json:"crop_region"`
	Active     bool         `json:"active"`
	Cropped    *croppedJSON `json:"cropped,omitempty"`
}

type croppedJSON struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
}

func toImageJSON(e registry.Entry, activeID string) imageJSON {
	out := imageJSON{
		ID:         e.ID,
		Name:       e.DisplayName,
		Width:      e.OriginalWidth,
		Height:     e.OriginalHeight,
		CropRegion: e.CropRegion,
		Active:     e.ID == activeID,
	}
	if e.Cropped != nil {
		out.Cropped = &croppedJSON{
			Width:       e.Cropped.Width,
			Height:      e.Cropped.Height,
			ContentType: e.Cropped.ContentType,
			Bytes:       len(e.Cropped.Data),
		}
	}
	return out
}
