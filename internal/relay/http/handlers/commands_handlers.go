package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/relay/cache"
	"voltlink/internal/relay/http/middleware"
	"voltlink/internal/relay/repository"
)

// CommandsHandlers forwards remote start/stop to the upstream. Status codes
// pass through verbatim; classification is the client's job.
type CommandsHandlers struct {
	upstream Upstream
	auditor  CommandAuditor
	sessions *cache.ActiveSessionsStore
	logger   *zap.Logger
}

// NewCommandsHandlers returns handler. auditor and sessions may be nil.
func NewCommandsHandlers(upstream Upstream, auditor CommandAuditor, sessions *cache.ActiveSessionsStore, logger *zap.Logger) *CommandsHandlers {
	return &CommandsHandlers{
		upstream: upstream,
		auditor:  auditor,
		sessions: sessions,
		logger:   logger,
	}
}

// RemoteStart handles POST /v1/commands/remoteStart.
func (h *CommandsHandlers) RemoteStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var req struct {
		ChargeBoxID string `json:"chargeBoxId"`
		IDTag       string `json:"idTag"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.ChargeBoxID == "" || req.IDTag == "" {
		writeError(w, http.StatusBadRequest, "chargeBoxId and idTag are required")
		return
	}

	path := "/v1/commands/remoteStart"
	if r.URL.Query().Get("force") == "1" {
		path += "?force=1"
	}

	status, respBody, err := h.upstream.Do(r.Context(), http.MethodPost, path, body)
	if err != nil {
		h.logger.Error("remote start upstream failed", zap.String("charge_box_id", req.ChargeBoxID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	h.audit(r, repository.CommandRecord{
		Kind:        "Start",
		ChargeBoxID: req.ChargeBoxID,
		HTTPStatus:  status,
	})
	writeRaw(w, status, respBody)
}

// RemoteStop handles POST /v1/commands/remoteStop.
func (h *CommandsHandlers) RemoteStop(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var req struct {
		TransactionID int64  `json:"transactionId"`
		ChargeBoxID   string `json:"chargeBoxId"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.TransactionID == 0 {
		writeError(w, http.StatusBadRequest, "transactionId is required")
		return
	}

	status, respBody, err := h.upstream.Do(r.Context(), http.MethodPost, "/v1/commands/remoteStop", body)
	if err != nil {
		h.logger.Error("remote stop upstream failed", zap.Int64("transaction_id", req.TransactionID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	// The cached active session is stale the moment a stop is accepted.
	if h.sessions != nil && req.ChargeBoxID != "" && status < 300 {
		if err := h.sessions.Delete(r.Context(), req.ChargeBoxID); err != nil {
			h.logger.Warn("active session cache invalidation failed", zap.String("charge_box_id", req.ChargeBoxID), zap.Error(err))
		}
	}

	h.audit(r, repository.CommandRecord{
		Kind:          "Stop",
		ChargeBoxID:   req.ChargeBoxID,
		TransactionID: req.TransactionID,
		HTTPStatus:    status,
	})
	writeRaw(w, status, respBody)
}

// RecentCommands handles GET /v1/debug/commands/{chargeBoxID}.
func (h *CommandsHandlers) RecentCommands(w http.ResponseWriter, r *http.Request) {
	if h.auditor == nil {
		writeError(w, http.StatusNotFound, "command audit disabled")
		return
	}
	chargeBoxID := r.PathValue("chargeBoxID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.auditor.ListRecent(r.Context(), chargeBoxID, limit)
	if err != nil {
		h.logger.Error("command audit query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": records})
}

func (h *CommandsHandlers) audit(r *http.Request, rec repository.CommandRecord) {
	if h.auditor == nil {
		return
	}
	rec.IssuedAt = time.Now().UTC()
	if deviceID, ok := middleware.DeviceIDFromContext(r.Context()); ok {
		rec.DeviceID = deviceID
	}

	// Auditing never delays or fails the command path.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	go func() {
		defer cancel()
		if err := h.auditor.Record(ctx, rec); err != nil {
			h.logger.Warn("command audit failed", zap.String("charge_box_id", rec.ChargeBoxID), zap.Error(err))
		}
	}()
}
