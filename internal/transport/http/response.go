package httptransport

import (
	"encoding/json"
	"net/http"
)

type apiError struct {
	Message string `json:"message"`
	// Status carries the job's current status where the error depends on
	// it (result not ready, cancel refused).
	Status string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

func writeErrStatus(w http.ResponseWriter, code int, msg, status string) {
	writeJSON(w, code, apiError{Message: msg, Status: status})
}
