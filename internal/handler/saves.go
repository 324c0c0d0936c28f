package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"checkpoint-sync-api/internal/blob"
	"checkpoint-sync-api/internal/middleware"
	"checkpoint-sync-api/internal/model"
	"checkpoint-sync-api/internal/service"
	"checkpoint-sync-api/pkg/apierror"
	"checkpoint-sync-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory.
const multipartMemory = 8 << 20

// SaveHandler handles save-related HTTP requests.
type SaveHandler struct {
	saves          *service.SaveService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewSaveHandler creates a new save handler.
func NewSaveHandler(saves *service.SaveService, maxUploadBytes int64, logger *zap.Logger) *SaveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaveHandler{
		saves:          saves,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// SaveView is the JSON representation of a save record.
// OwnerKey is only filled in for the record's owner.
type SaveView struct {
	model.SaveRecord
	IsOwner  bool   `json:"is_owner"`
	OwnerKey string `json:"serial,omitempty"`
}

func newSaveView(rec model.SaveRecord, ownerKey string) SaveView {
	v := SaveView{SaveRecord: rec, IsOwner: rec.OwnedBy(ownerKey)}
	if v.IsOwner {
		v.OwnerKey = rec.OwnerKey
	}
	return v
}

// Create handles POST /api/v1/saves
func (h *SaveHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerKey := middleware.GetOwnerKey(r.Context())

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, apierror.PayloadTooLarge(tooLarge.Limit))
			return
		}
		response.Error(w, apierror.BadRequest("request must be multipart/form-data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, apierror.ValidationError("save data is required",
			apierror.FieldError{Field: "file", Message: "missing file part"}))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read save data"))
		return
	}

	meta, fieldErr := parseMetadata(r, header.Filename)
	if fieldErr != nil {
		response.Error(w, apierror.ValidationError("invalid save metadata", *fieldErr))
		return
	}

	id, err := h.saves.Create(r.Context(), meta, ownerKey, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, map[string]interface{}{
		"id":   id,
		"size": len(data),
	})
}

// parseMetadata reads the form fields of an upload. Content checks are left to the service.
func parseMetadata(r *http.Request, filename string) (model.SaveMetadata, *apierror.FieldError) {
	meta := model.SaveMetadata{
		ContentDigest: strings.TrimSpace(r.FormValue("hash")),
		DisplayName:   r.FormValue("name"),
	}
	if meta.DisplayName == "" {
		meta.DisplayName = r.FormValue("username")
	}
	if meta.DisplayName == "" {
		meta.DisplayName = filename
	}

	platform, ok := model.ParsePlatform(r.FormValue("type"))
	if !ok {
		return meta, &apierror.FieldError{Field: "type", Message: fmt.Sprintf("type must be one of %v", model.Platforms)}
	}
	meta.Platform = platform

	if v := r.FormValue("private"); v != "" {
		private, err := strconv.ParseBool(v)
		if err != nil {
			return meta, &apierror.FieldError{Field: "private", Message: "private must be a boolean"}
		}
		meta.IsPrivate = private
	}

	if v := strings.TrimSpace(r.FormValue("product_code")); v != "" {
		meta.ProductCode = &v
	}

	if v := strings.TrimSpace(r.FormValue("title_id")); v != "" {
		titleID, err := ParseTitleID(v)
		if err != nil {
			return meta, &apierror.FieldError{Field: "title_id", Message: err.Error()}
		}
		meta.TitleID = &titleID
	}
	return meta, nil
}

// Get handles GET /api/v1/saves/{id}
func (h *SaveHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerKey := middleware.GetOwnerKey(r.Context())

	id, ok := saveID(w, r)
	if !ok {
		return
	}

	rec, err := h.saves.FetchByID(r.Context(), id, ownerKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec == nil {
		response.Error(w, apierror.NotFound("save not found"))
		return
	}

	response.OK(w, newSaveView(*rec, ownerKey))
}

// Download handles GET /api/v1/saves/{id}/data
func (h *SaveHandler) Download(w http.ResponseWriter, r *http.Request) {
	ownerKey := middleware.GetOwnerKey(r.Context())

	id, ok := saveID(w, r)
	if !ok {
		return
	}

	rec, body, err := h.saves.OpenBlob(r.Context(), id, ownerKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec == nil {
		response.Error(w, apierror.NotFound("save not found"))
		return
	}
	defer body.Close()

	w.Header().Set("ETag", `"`+rec.ContentDigest+`"`)
	w.Header().Set("Last-Modified", rec.CreatedAt.UTC().Format(http.TimeFormat))
	if _, err := response.Attachment(w, blob.SanitizeName(rec.DisplayName), -1, body); err != nil {
		h.logger.Warn("save download interrupted",
			zap.Int64("id", id),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
}

// Delete handles DELETE /api/v1/saves/{id}
func (h *SaveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerKey := middleware.GetOwnerKey(r.Context())

	id, ok := saveID(w, r)
	if !ok {
		return
	}

	outcome, err := h.saves.DeleteByID(r.Context(), id, ownerKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch outcome {
	case model.DeleteRemoved:
		response.OK(w, map[string]interface{}{
			"status": "deleted",
			"id":     id,
		})
	case model.DeleteNotFound:
		response.Error(w, apierror.NotFound("save not found"))
	default:
		h.writeError(w, r, model.Internal("delete save", fmt.Errorf("unknown delete outcome %v", outcome)))
	}
}

// ListByTitle handles GET /api/v1/titles/{title_id}/saves
func (h *SaveHandler) ListByTitle(w http.ResponseWriter, r *http.Request) {
	ownerKey := middleware.GetOwnerKey(r.Context())

	titleID, err := ParseTitleID(chi.URLParam(r, "title_id"))
	if err != nil {
		response.Error(w, apierror.ValidationError("invalid title id",
			apierror.FieldError{Field: "title_id", Message: err.Error()}))
		return
	}

	records, err := h.saves.FetchByTitle(r.Context(), titleID, ownerKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(records) == 0 {
		response.Error(w, apierror.NotFound("no saves for this title"))
		return
	}

	views := make([]SaveView, len(records))
	for i, rec := range records {
		views[i] = newSaveView(rec, ownerKey)
	}
	w.Header().Set("Cache-Control", "private, max-age=0")
	response.List(w, views)
}

// ParseTitleID parses a decimal or 0x-prefixed hexadecimal title id.
func ParseTitleID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = rest, 16
	}
	if s == "" {
		return 0, errors.New("title id is required")
	}

	id, err := strconv.ParseInt(s, base, 64)
	if err != nil || id < 0 {
		return 0, errors.New("title id must be a non-negative decimal or 0x-prefixed hex number")
	}
	return id, nil
}

func saveID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, apierror.ValidationError("invalid save id",
			apierror.FieldError{Field: "id", Message: "id must be a positive integer"}))
		return 0, false
	}
	return id, true
}

// writeError maps a service error onto the HTTP error envelope.
func (h *SaveHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch kind := model.KindOf(err); kind {
	case model.KindInvalidInput:
		var e *model.Error
		msg := err.Error()
		if errors.As(err, &e) && e.Err != nil {
			msg = e.Err.Error()
		}
		response.Error(w, apierror.ValidationError("invalid save request",
			apierror.FieldError{Field: model.FieldOf(err), Message: msg}))
	case model.KindStorageUnavailable:
		h.logger.Error("save storage unavailable",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		w.Header().Set("Retry-After", "30")
		response.Error(w, apierror.ServiceUnavailable("save storage is unavailable"))
	case model.KindInternal:
		h.logger.Error("save request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		response.Error(w, apierror.InternalError(""))
	default:
		h.logger.Error("unclassified save error",
			zap.Stringer("kind", kind),
			zap.Error(err))
		response.Error(w, apierror.InternalError(""))
	}
}
