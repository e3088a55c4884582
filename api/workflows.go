package api

import (
	"net/http"

	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *handlers) createWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if result := dag.Validate(req.Workflow, h.registry); !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": result.Errors})
		return
	}

	wt := store.WorkflowTemplate{ID: uuid.New().String(), OrgID: claims.OrgID, Name: req.Name}
	if _, err := h.store.CreateWorkflowTemplate(r.Context(), wt); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	wv := store.WorkflowVersion{TemplateID: wt.ID, Version: 1, Workflow: req.Workflow}
	if _, err := h.store.CreateWorkflowVersion(r.Context(), wv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createWorkflowResponse{TemplateID: wt.ID, Version: 1})
}

func (h *handlers) createWorkflowVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := h.store.GetWorkflowTemplate(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}

	var req struct {
		Workflow dag.Workflow `json:"workflow"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if result := dag.Validate(req.Workflow, h.registry); !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": result.Errors})
		return
	}

	existing, err := h.store.ListWorkflowVersions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	nextVersion := len(existing) + 1

	wv := store.WorkflowVersion{TemplateID: id, Version: nextVersion, Workflow: req.Workflow}
	if _, err := h.store.CreateWorkflowVersion(r.Context(), wv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createWorkflowResponse{TemplateID: id, Version: nextVersion})
}

func (h *handlers) runWorkflow(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req runWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var wv store.WorkflowVersion
	var err error
	if req.Version > 0 {
		wv, _, err = h.store.GetWorkflowVersion(r.Context(), id, req.Version)
	} else {
		wv, err = h.store.LatestWorkflowVersion(r.Context(), id)
	}
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	title := req.Title
	if title == "" {
		if tmpl, _, tErr := h.store.GetWorkflowTemplate(r.Context(), id); tErr == nil {
			title = tmpl.Name
		}
	}

	job := store.Job{
		ID:              uuid.New().String(),
		OrgID:           claims.OrgID,
		OwnerID:         claims.Identity(),
		Title:           title,
		TemplateID:      id,
		TemplateVersion: wv.Version,
	}
	if err := h.orch.StartJob(r.Context(), job, wv.Workflow); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createJobResponse{JobID: job.ID, TaskCount: len(wv.Workflow.Nodes)})
}
