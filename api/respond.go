package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bluebox123/agentic-orchestrator/store"
)

// maxJSONBodySize bounds request bodies to prevent unbounded decoding.
const maxJSONBodySize = 1 << 20 // 1MB

// decodeJSON reads and unmarshals a request body, rejecting bodies over
// maxJSONBodySize and trailing garbage after the JSON value.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data in request body")
	}
	return nil
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response in the shape {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreErr maps a store lookup error to 404 or 500.
func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
