package api

import (
	"errors"
	"net/http"

	"github.com/bluebox123/agentic-orchestrator/artifact"
	"github.com/bluebox123/agentic-orchestrator/store"
	"github.com/go-chi/chi/v5"
)

// diffArtifact diffs the artifact named by :id against the "from" query
// param, or against its direct predecessor in the version chain if "from"
// is omitted.
func (h *handlers) diffArtifact(w http.ResponseWriter, r *http.Request) {
	toID := chi.URLParam(r, "id")
	to, _, err := h.artifacts.Get(r.Context(), toID)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	fromID := r.URL.Query().Get("from")
	if fromID == "" {
		fromID = to.ParentArtifactID
	}
	if fromID == "" {
		writeError(w, http.StatusBadRequest, "artifact has no prior version to diff against")
		return
	}

	diff, err := h.artifacts.Diff(r.Context(), fromID, toID)
	if err != nil {
		if errors.Is(err, artifact.ErrUnsupportedDiffType) || errors.Is(err, artifact.ErrMismatchedArtifacts) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (h *handlers) listArtifactVersions(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	typ := store.ArtifactType(chi.URLParam(r, "type"))
	role := chi.URLParam(r, "role")

	versions, err := h.artifacts.Versions(r.Context(), jobID, typ, role)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *handlers) promoteArtifact(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req promoteArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	target := store.ArtifactStatus(req.TargetStatus)
	switch target {
	case store.ArtifactApproved, store.ArtifactFrozen:
	default:
		writeError(w, http.StatusBadRequest, "target_status must be approved or frozen")
		return
	}

	if err := h.artifacts.Promote(r.Context(), id, claims.Identity(), target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreErr(w, err)
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
