package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *handlers) createJob(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" || len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "title and at least one task are required")
		return
	}

	wf := buildWorkflow(req.Tasks)
	result := dag.Validate(wf, h.registry)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": result.Errors})
		return
	}

	job := store.Job{
		ID:      uuid.New().String(),
		OrgID:   claims.OrgID,
		OwnerID: claims.Identity(),
		Title:   req.Title,
	}
	if err := h.orch.StartJob(r.Context(), job, wf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createJobResponse{JobID: job.ID, TaskCount: len(wf.Nodes)})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "mine"
	}
	if scope == "org" && claims.OrgID == "" {
		writeError(w, http.StatusForbidden, "caller has no organization")
		return
	}

	all, err := h.store.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobs := make([]store.Job, 0, len(all))
	for _, j := range all {
		switch scope {
		case "org":
			if j.OrgID == claims.OrgID {
				jobs = append(jobs, j)
			}
		default: // mine
			if j.OwnerID == claims.Identity() {
				jobs = append(jobs, j)
			}
		}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	job, _, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if !requireOrgMatch(w, claims, job.OrgID, job.OwnerID) {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) listJobTasks(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	job, _, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if !requireOrgMatch(w, claims, job.OrgID, job.OwnerID) {
		return
	}
	tasks, err := h.store.ListTasksByJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.orch.CancelJob)
}

func (h *handlers) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.orch.PauseJob)
}

func (h *handlers) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.orch.ResumeJob)
}

func (h *handlers) jobAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, jobID string) error) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	job, _, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if !requireOrgMatch(w, claims, job.OrgID, job.OwnerID) {
		return
	}
	if err := action(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) scheduleJob(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")
	job, _, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if !requireOrgMatch(w, claims, job.OrgID, job.OwnerID) {
		return
	}

	var req scheduleJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	templateID, templateVersion := req.TemplateID, req.TemplateVersion
	if templateID == "" {
		// Fall back to the job's own template linkage, for jobs originally
		// instantiated from a workflow template.
		templateID, templateVersion = job.TemplateID, job.TemplateVersion
	}
	if templateID == "" {
		writeError(w, http.StatusBadRequest, "job has no linked workflow template; template_id is required")
		return
	}

	sched := store.Schedule{
		JobID:           id,
		Type:            store.ScheduleType(req.Type),
		CronExpr:        req.CronExpr,
		RunAt:           req.RunAt,
		Enabled:         true,
		TemplateID:      templateID,
		TemplateVersion: templateVersion,
		OrgID:           job.OrgID,
		OwnerID:         job.OwnerID,
		Title:           job.Title,
	}

	switch sched.Type {
	case store.ScheduleOnce, store.ScheduleDelayed:
		if sched.RunAt == nil {
			writeError(w, http.StatusBadRequest, "run_at is required for once/delayed schedules")
			return
		}
		sched.NextRunAt = sched.RunAt
	case store.ScheduleCron:
		if sched.CronExpr == "" {
			writeError(w, http.StatusBadRequest, "cron_expr is required for cron schedules")
			return
		}
		now := time.Now()
		sched.NextRunAt = &now // scheduler computes the real next run on its first tick
	default:
		writeError(w, http.StatusBadRequest, "type must be one of once, delayed, cron")
		return
	}

	if _, err := h.store.CreateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}
