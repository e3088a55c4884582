package api

import (
	"net/http"
	"strings"

	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/go-chi/chi/v5"
)

// splitTaskID recovers the job id from a composite "<jobID>:<nodeID>" task
// id (the orchestrator's internal task key format).
func splitTaskID(id string) (jobID string, ok bool) {
	jobID, _, found := strings.Cut(id, ":")
	return jobID, found
}

func (h *handlers) taskJob(w http.ResponseWriter, r *http.Request, taskID string) (store.Job, bool) {
	claims, _ := ClaimsFromContext(r.Context())
	jobID, ok := splitTaskID(taskID)
	if !ok {
		writeError(w, http.StatusBadRequest, "malformed task id")
		return store.Job{}, false
	}
	job, _, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeStoreErr(w, err)
		return store.Job{}, false
	}
	if !requireOrgMatch(w, claims, job.OrgID, job.OwnerID) {
		return store.Job{}, false
	}
	return job, true
}

func (h *handlers) retryTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.taskJob(w, r, id)
	if !ok {
		return
	}
	if err := h.orch.RetryManual(r.Context(), job.ID, id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) skipTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.taskJob(w, r, id)
	if !ok {
		return
	}
	if err := h.orch.SkipManual(r.Context(), job.ID, id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) failTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.taskJob(w, r, id)
	if !ok {
		return
	}
	var req failTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.orch.FailManual(r.Context(), job.ID, id, req.Reason); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reviewTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.taskJob(w, r, id)
	if !ok {
		return
	}
	var req reviewTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	decision := store.ReviewDecision(strings.ToUpper(req.Decision))
	if decision != store.ReviewApprove && decision != store.ReviewReject {
		writeError(w, http.StatusBadRequest, "decision must be APPROVE or REJECT")
		return
	}
	if err := h.orch.Review(r.Context(), job.ID, id, decision, req.Score, req.Feedback); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
