package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// maxUploadBytes bounds the multipart body; the uploader enforces the
// image limit itself.
const maxUploadBytes = 6 << 20

// ImageHandler accepts market image uploads.
type ImageHandler struct {
	uploader domain.ImageUploader
	logger   *slog.Logger
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(uploader domain.ImageUploader, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{uploader: uploader, logger: logger}
}

// Upload stores the "image" form file and returns its public URL.
// POST /api/images
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "image storage is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	url, err := h.uploader.UploadImage(r.Context(), hdr.Filename, file)
	if err != nil {
		writeServiceError(w, r, h.logger, "upload image", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"imageUrl": url})
}
