package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codeloft/stagehand/pkg/hub"
	"github.com/codeloft/stagehand/pkg/storage"
)

type createRequestBody struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type updateRequestStatusBody struct {
	Status string `json:"status"`
}

var validRequestStatuses = map[string]bool{
	storage.RequestStatusPending:    true,
	storage.RequestStatusProcessing: true,
	storage.RequestStatusCompleted:  true,
	storage.RequestStatusFailed:     true,
	storage.RequestStatusCancelled:  true,
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}

	req := storage.Request{
		ID:        body.ID,
		ProjectID: projectID,
		Role:      body.Role,
		Content:   body.Content,
	}
	if err := s.store.SaveRequest(r.Context(), req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	saved, err := s.store.GetRequest(r.Context(), body.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.hub.Publish(projectID, hub.Event{
		Type: hub.EventTaskStarted,
		Data: map[string]any{
			"requestId": saved.ID,
			"projectId": projectID,
			"status":    saved.Status,
		},
	})
	s.publishTaskSummary(r, projectID)

	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	requests, err := s.store.ListRequestsByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if requests == nil {
		requests = []storage.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *Server) handleUpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var body updateRequestStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !validRequestStatuses[body.Status] {
		writeError(w, http.StatusBadRequest, "status must be one of pending, processing, completed, failed, cancelled")
		return
	}

	if err := s.store.UpdateRequestStatus(r.Context(), requestID, body.Status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.store.GetRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	eventType := hub.EventRequestStatus
	switch body.Status {
	case storage.RequestStatusCompleted:
		eventType = hub.EventTaskCompleted
	case storage.RequestStatusFailed:
		eventType = hub.EventTaskFailed
	}
	s.hub.Publish(updated.ProjectID, hub.Event{
		Type: eventType,
		Data: map[string]any{
			"requestId": updated.ID,
			"projectId": updated.ProjectID,
			"status":    updated.Status,
		},
	})
	s.publishTaskSummary(r, updated.ProjectID)

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTaskSummary(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	summary, err := s.tracker.Summary(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// publishTaskSummary pushes the project's refreshed activity summary to
// stream subscribers after a request changes.
func (s *Server) publishTaskSummary(r *http.Request, projectID string) {
	summary, err := s.tracker.Summary(r.Context(), projectID)
	if err != nil {
		return
	}
	s.hub.Publish(projectID, hub.Event{
		Type: hub.EventRequestStatus,
		Data: map[string]any{
			"projectId":         projectID,
			"hasActiveRequests": summary.HasActiveRequests,
			"activeCount":       summary.ActiveCount,
		},
	})
}
