package api

import (
	"net/http"
	"strconv"

	"github.com/bluebox123/agentic-orchestrator/broker"
)

const defaultDLQLimit = 50

func (h *handlers) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.broker.FetchDLQ(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []broker.DLQEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
