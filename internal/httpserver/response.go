package httpserver

import (
	"encoding/json"
	"net/http"

	"azaan/internal/service"
)

// envelope is the body shape shared by every /api route.
type envelope struct {
	OK         bool                `json:"ok"`
	Data       any                 `json:"data,omitempty"`
	Message    string              `json:"message,omitempty"`
	Error      string              `json:"error,omitempty"`
	Pagination *service.Pagination `json:"pagination,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any, message string) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, Message: message})
}

func writePage(w http.ResponseWriter, data any, p service.Pagination) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, Pagination: &p})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{OK: false, Error: msg})
}

// orEmpty keeps list responses encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
