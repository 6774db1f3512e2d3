package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/auth"
	"github.com/birdnest/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

const (
	formFieldImage     = "image"
	maxMultipartMemory = 8 << 20
	multipartOverhead  = 1 << 20
)

// MediaHandler serves profile image uploads and downloads.
type MediaHandler struct {
	media  *services.MediaService
	logger *slog.Logger
}

func NewMediaHandler(media *services.MediaService, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{media: media, logger: logger}
}

// MediaRouter registers media routes on the given router.
func MediaRouter(r chi.Router, h *MediaHandler, authz *auth.Authorizer) {
	r.With(authz.Middleware(auth.ModeVerifiedUser)).Post("/upload-image", h.UploadImage)
	r.Get("/images/*", h.GetImage)
}

// UploadImage accepts a multipart form with an "image" file and stores it
// as the caller's avatar, or cover when ?kind=cover.
func (h *MediaHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	kind := services.ImageKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = services.ImageAvatar
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apperr.Write(w, h.logger, apperr.Validation(map[string]string{formFieldImage: "must be at most 5 MiB"}, err))
			return
		}
		apperr.Write(w, h.logger, apperr.Validation(map[string]string{"body": "must be multipart/form-data"}, err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile(formFieldImage)
	if err != nil {
		apperr.Write(w, h.logger, apperr.Validation(map[string]string{formFieldImage: "is required"}, err))
		return
	}
	defer file.Close()

	media, err := h.media.UploadImage(r.Context(), authorization(r).UserID, kind, file, header.Size)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	respond(w, http.StatusCreated, detailImageUploaded, media)
}

// GetImage streams a stored image.
func (h *MediaHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	obj, err := h.media.GetImage(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("stream image", "error", err)
	}
}
