package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codeloft/stagehand/pkg/observability"
	"github.com/codeloft/stagehand/pkg/ports"
)

// handlePreviewStart starts the project's dev server, or reports the one
// already running. Safe to call repeatedly.
func (s *Server) handlePreviewStart(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	ctx, span := observability.StartSpan(r.Context(), "preview.start")
	defer span.End()
	span.SetAttributes(observability.AttrProjectID.String(projectID))

	inst, err := s.supervisor.Start(ctx, projectID)
	if err != nil {
		var exhausted *ports.RangeExhaustedError
		if errors.As(err, &exhausted) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	span.SetAttributes(
		observability.AttrPreviewPort.Int(inst.Port),
		observability.AttrPreviewState.String(string(inst.State)),
	)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handlePreviewStop(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	_, span := observability.StartSpan(r.Context(), "preview.stop")
	defer span.End()
	span.SetAttributes(observability.AttrProjectID.String(projectID))

	if err := s.supervisor.Stop(projectID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.supervisor.Status(projectID))
}

func (s *Server) handlePreviewStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	writeJSON(w, http.StatusOK, s.supervisor.Status(projectID))
}
