package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codeloft/stagehand/pkg/observability"
)

type createPermissionRequest struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

type resolvePermissionRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": s.broker.List(),
	})
}

// handleCreatePermission registers a pending permission and suspends until
// a human resolves it or the broker times out. The response carries the
// decision; timeout reads as a denial.
func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ctx, span := observability.StartSpan(r.Context(), "permission.await")
	defer span.End()
	span.SetAttributes(observability.AttrPermissionID.String(req.ID))

	// Policy short-circuit: modes other than ask grant some kinds
	// without a human in the loop.
	if s.mode.AutoApproves(req.Kind) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       req.ID,
			"approved": true,
			"auto":     true,
		})
		return
	}

	outcome := s.broker.Create(req.ID, req.Kind, req.Payload)

	select {
	case approved := <-outcome:
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       req.ID,
			"approved": approved,
		})
	case <-ctx.Done():
		// Client went away; the broker entry expires on its own.
	}
}

func (s *Server) handleResolvePermission(w http.ResponseWriter, r *http.Request) {
	permissionID := chi.URLParam(r, "permissionID")

	var req resolvePermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved must be a boolean")
		return
	}

	_, span := observability.StartSpan(r.Context(), "permission.resolve")
	defer span.End()
	span.SetAttributes(observability.AttrPermissionID.String(permissionID))

	if !s.broker.Resolve(permissionID, *req.Approved) {
		if s.broker.Consumed(permissionID) {
			writeError(w, http.StatusBadRequest, "permission already resolved")
			return
		}
		writeError(w, http.StatusNotFound, "permission not found")
		return
	}

	status := "denied"
	if *req.Approved {
		status = "approved"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
