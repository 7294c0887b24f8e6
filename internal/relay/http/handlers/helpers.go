package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"voltlink/internal/relay/repository"
)

// Upstream is the backend the relay re-encodes requests to.
type Upstream interface {
	Do(ctx context.Context, method, path string, body []byte) (int, []byte, error)
	Stream(ctx context.Context, path, accept string) (*http.Response, error)
}

// CommandAuditor records forwarded commands. May be nil (auditing disabled).
type CommandAuditor interface {
	Record(ctx context.Context, rec repository.CommandRecord) error
	ListRecent(ctx context.Context, chargeBoxID string, limit int) ([]repository.CommandRecord, error)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_, _ = w.Write(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
