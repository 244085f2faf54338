package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/menta2k/squarecrop/internal/utils"
	"github.com/menta2k/squarecrop/pkg/export"
	"github.com/menta2k/squarecrop/pkg/intake"
	"github.com/menta2k/squarecrop/pkg/registry"
	"github.com/menta2k/squarecrop/pkg/types"
)

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	active := s.registry.ActiveID()
	entries := s.registry.List()
	out := make([]imageJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toImageJSON(e, active))
	}
	s.writeJSON(w, map[string]any{
		"images":    out,
		"active_id": active,
	})
}

// handleUpload accepts any number of "files" parts. Non-image parts are
// skipped without failing the request.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.options.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}

	files := make([]intake.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, "Failed to open upload: "+err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusBadRequest)
			return
		}
		files = append(files, intake.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	res, err := s.intake.Batch(r.Context(), files)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.registry.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) entryOrError(w http.ResponseWriter, r *http.Request) (registry.Entry, bool) {
	e, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return registry.Entry{}, false
	}
	return e, true
}

func (s *Server) writeEntry(w http.ResponseWriter, id string) {
	e, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toImageJSON(e, s.registry.ActiveID()))
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	if e, ok := s.entryOrError(w, r); ok {
		s.writeJSON(w, toImageJSON(e, s.registry.ActiveID()))
	}
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if err := s.registry.Rename(id, req.Name); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeEntry(w, id)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if !s.registry.SetActive(r.PathValue("id")) {
		s.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.view.State())
}

func (s *Server) handleCropRegion(w http.ResponseWriter, r *http.Request) {
	var rect types.Rect
	if err := decodeJSON(r, &rect); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	if err := s.registry.UpdateCropRegion(id, rect); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeEntry(w, id)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.ResetCropRegion(id); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeEntry(w, id)
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	id := r.PathValue("id")
	if _, err := s.view.CropEntry(r.Context(), id, req.Name); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeEntry(w, id)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entryOrError(w, r)
	if !ok {
		return
	}
	if e.Cropped == nil {
		s.writeError(w, "Image has not been cropped", http.StatusNotFound)
		return
	}

	name := utils.OutputName(e.DisplayName, s.view.Extension(), s.options.DefaultName)
	w.Header().Set("Content-Type", e.Cropped.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if _, err := w.Write(e.Cropped.Data); err != nil {
		s.logger.Error("Unable to write download", "name", name, "err", err)
	}
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entryOrError(w, r)
	if !ok {
		return
	}
	data, err := s.processor.EncodePNG(e.Source)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Unable to write source image", "id", e.ID, "err", err)
	}
}

func (s *Server) exporter() *export.Exporter {
	ex := &export.Exporter{
		Fallback:    export.DirDestination{Dir: s.options.FallbackDir, Overwrite: s.options.Overwrite},
		Extension:   s.view.Extension(),
		DefaultName: s.options.DefaultName,
		Delay:       s.options.ExportDelay,
		Logger:      s.logger,
	}
	if s.options.ExportDir != "" {
		dir := export.DirDestination{Dir: s.options.ExportDir, Overwrite: s.options.Overwrite}
		ex.Picker = export.PickerFunc(func(context.Context) (export.Destination, error) {
			return dir, nil
		})
	}
	return ex
}

// handleExportZip streams every cropped result as one archive.
func (s *Server) handleExportZip(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.Cropped()
	if len(entries) == 0 {
		s.writeError(w, "No cropped images to export", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "cropped-images.zip"}))

	zipDst := export.NewZipDestination(w)
	ex := s.exporter()
	ex.Picker = nil
	ex.Fallback = zipDst
	ex.Delay = 0

	rep, err := ex.SaveAll(r.Context(), entries)
	if err != nil {
		s.logger.Error("Zip export failed", "err", err, "written", len(rep.Written))
	}
	if err := zipDst.Close(); err != nil {
		s.logger.Error("Unable to finish archive", "err", err)
	}
}

func (s *Server) handleExportDir(w http.ResponseWriter, r *http.Request) {
	rep, err := s.exporter().SaveAll(r.Context(), s.registry.List())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, rep)
}
