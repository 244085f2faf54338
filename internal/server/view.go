package server

import (
	"fmt"
	"net/http"

	"github.com/menta2k/squarecrop/pkg/editor"
	"github.com/menta2k/squarecrop/pkg/types"
)

// Pointer event types
const (
	pointerDown   = "down"
	pointerMove   = "move"
	pointerUp     = "up"
	pointerCancel = "cancel"
)

// pointerEvent is one pointer sample in display coordinates.
type pointerEvent struct {
	Type   string        `json:"type"`
	Action editor.Action `json:"action,omitempty"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
}

// applyPointer feeds ev to the view. A down event that finds nothing to edit
// is not an error.
func (s *Server) applyPointer(ev pointerEvent) (editor.State, error) {
	p := types.Point{X: ev.X, Y: ev.Y}
	switch ev.Type {
	case pointerDown:
		st, _ := s.view.PointerDown(ev.Action, p)
		return st, nil
	case pointerMove:
		return s.view.PointerMove(p)
	case pointerUp:
		return s.view.PointerUp(), nil
	case pointerCancel:
		return s.view.Cancel()
	default:
		return s.view.State(), fmt.Errorf("unknown pointer event %q", ev.Type)
	}
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.view.State())
}

func (s *Server) handleSetContainer(w http.ResponseWriter, r *http.Request) {
	var size types.Size
	if err := decodeJSON(r, &size); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.view.SetContainer(size)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev pointerEvent
	if err := decodeJSON(r, &ev); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.applyPointer(ev)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	st, err := s.view.Suggest(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.view.Preview(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Unable to write preview", "err", err)
	}
}
