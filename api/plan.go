package api

import (
	"net/http"
	"strings"
)

// plan runs a natural-language prompt through the planner and returns its
// PlanResult verbatim. The planner never errors internally — every failure
// mode (LLM exhaustion, malformed response, validator rejection) comes back
// as CanExecute=false with a reason, which this handler maps onto the
// service's stable error-kind disposition: an "internal error: ..." reason
// means every LLM provider was exhausted or its response unusable (503,
// llm_exhausted), anything else is a validator rejection (422).
func (h *handlers) plan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result := h.planner.Plan(r.Context(), req.Prompt)
	if !result.CanExecute && strings.HasPrefix(result.ReasonIfNot, "internal error:") {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	if !result.CanExecute {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
