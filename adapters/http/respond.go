package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error" example:"limit_exceeded"`
	Message string `json:"message,omitempty" example:"Encryption failed"`
}

// writeJSON encodes v before touching the response, so an unencodable
// value becomes a plain 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal_error"}`, http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// pageParams reads limit and offset. Missing or malformed values fall back
// to the defaults and limit is capped at maxPageSize.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, offset = defaultPageSize, 0
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
