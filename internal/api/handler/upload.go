package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	mw "github.com/kadrio/idphoto/internal/api/middleware"
	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/limiter"
	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/internal/storage"
	"github.com/kadrio/idphoto/pkg/models"
)

const multipartMemoryLimit = 16 << 20

// Submitter is the dispatcher surface the upload handler depends on.
type Submitter interface {
	Submit(task models.Task, inputPath string, params models.DocumentParams) error
}

// DocumentTable resolves a document type to processing parameters, falling
// back to the default set for unknown types.
type DocumentTable func(documentType string) (models.DocumentParams, bool)

// NewUploadHandler returns the http.HandlerFunc for POST /api/v1/upload.
// It stores the file, creates a pending task, enqueues the job, and returns
// immediately; clients poll the status endpoint for the outcome.
func NewUploadHandler(reg *registry.Registry, files *storage.Store, jobs Submitter, docs DocumentTable, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+multipartMemoryLimit)
		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form", nil)
			return
		}

		sessionID := r.FormValue("session_id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		} else if !storage.ValidSessionID(sessionID) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid session_id", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Field 'file' is required", nil)
			return
		}
		defer file.Close()

		documentType := r.FormValue("document_type")
		if documentType == "" {
			documentType = "id_card"
		}
		params, known := docs(documentType)
		if !known {
			slog.Warn("unknown document type, using defaults", "document_type", documentType)
		}

		path, err := files.SaveUpload(file, header.Filename, sessionID, 0)
		if err != nil {
			if storage.IsValidationError(err) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			slog.Error("store upload failed", "session_id", sessionID, "error", err)
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Could not store the upload", nil)
			return
		}

		userID, _ := mw.UserID(r)
		authenticated := false
		if id, ok := mw.GetIdentity(r); ok {
			authenticated = id.Tier != limiter.TierAnonymous
		}

		task := reg.Create(sessionID, filepath.Base(path), documentType, userID, authenticated)

		if err := jobs.Submit(task, path, params); err != nil {
			reg.Remove(task.ID)
			slog.Warn("job submission rejected", "session_id", sessionID, "error", err)
			response.Error(w, http.StatusServiceUnavailable, "SERVER_BUSY",
				"Processing queue is full, try again shortly", nil)
			return
		}

		response.Accepted(w, uploadResponse{
			Message:   "Processing started",
			TaskID:    task.ID,
			SessionID: sessionID,
		})
	}
}

type uploadResponse struct {
	Message   string `json:"message"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
}
