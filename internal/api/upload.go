package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/ashureev/docchat/internal/identity"
)

const (
	maxUploadSize   = 50 << 20
	uploadMemoryMax = 8 << 20
)

// Upload relays one PDF from the multipart field "file" to the upload
// service.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(uploadMemoryMax); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	res, err := h.backend.UploadPDF(r.Context(), identity.CredentialFromContext(r.Context()), hdr.Filename, file)
	if err != nil {
		if errors.Is(err, backend.ErrNotPDF) {
			Error(w, http.StatusBadRequest, "only PDF files are supported")
			return
		}
		slog.Warn("Upload failed", "file", hdr.Filename, "error", err)
		backendError(w, err)
		return
	}

	slog.Info("Upload finished",
		"file", res.FileName,
		"outcome", string(res.Outcome),
		"chunks", res.Chunks,
	)
	JSON(w, http.StatusOK, res)
}
