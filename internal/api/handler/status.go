package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadrio/idphoto/internal/api/response"
	"github.com/kadrio/idphoto/internal/registry"
	"github.com/kadrio/idphoto/pkg/models"
)

// NewStatusHandler returns the http.HandlerFunc for GET /api/v1/status/{taskID}.
func NewStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		task, ok := reg.Get(taskID)
		if !ok {
			response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Unknown task id", nil)
			return
		}
		response.JSON(w, taskView(task))
	}
}

// NewSessionStatusHandler returns the handler for
// GET /api/v1/status/session/{sessionID}. An unknown session yields an empty
// list, not an error.
func NewSessionStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		tasks := reg.BySession(sessionID)

		views := make([]taskResponse, 0, len(tasks))
		for _, t := range tasks {
			views = append(views, taskView(t))
		}
		response.JSON(w, sessionStatusResponse{
			SessionID:  sessionID,
			TotalTasks: len(views),
			Tasks:      views,
		})
	}
}

type taskResponse struct {
	models.Task
	OutputURL string `json:"output_url,omitempty"`
}

type sessionStatusResponse struct {
	SessionID  string         `json:"session_id"`
	TotalTasks int            `json:"total_tasks"`
	Tasks      []taskResponse `json:"tasks"`
}

func taskView(t models.Task) taskResponse {
	view := taskResponse{Task: t}
	if t.ResultFile != "" {
		view.OutputURL = fmt.Sprintf("/api/v1/output/%s/%s", t.SessionID, t.ResultFile)
	}
	return view
}
