package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"voltlink/internal/models"
	"voltlink/internal/relay/cache"
)

// SessionsHandlers proxies session and charge-point lookups, with a short
// redis cache in front of the active-session endpoint.
type SessionsHandlers struct {
	upstream Upstream
	sessions *cache.ActiveSessionsStore
	logger   *zap.Logger
}

// NewSessionsHandlers returns handler. sessions may be nil (no caching).
func NewSessionsHandlers(upstream Upstream, sessions *cache.ActiveSessionsStore, logger *zap.Logger) *SessionsHandlers {
	return &SessionsHandlers{
		upstream: upstream,
		sessions: sessions,
		logger:   logger,
	}
}

// Active handles GET /v1/sessions/active/{chargeBoxID}.
func (h *SessionsHandlers) Active(w http.ResponseWriter, r *http.Request) {
	chargeBoxID := r.PathValue("chargeBoxID")

	if h.sessions != nil {
		if tx, hit, err := h.sessions.Get(r.Context(), chargeBoxID); err == nil && hit {
			writeJSON(w, http.StatusOK, tx)
			return
		} else if err != nil {
			h.logger.Warn("active session cache read failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		}
	}

	status, body, err := h.upstream.Do(r.Context(), http.MethodGet, "/v1/sessions/active/"+url.PathEscape(chargeBoxID), nil)
	if err != nil {
		h.logger.Error("active session upstream failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	if h.sessions != nil && status == http.StatusOK {
		var tx models.Transaction
		if json.Unmarshal(body, &tx) == nil && tx.TransactionID != 0 {
			if err := h.sessions.Save(r.Context(), chargeBoxID, tx); err != nil {
				h.logger.Warn("active session cache write failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
			}
		}
	}
	writeRaw(w, status, body)
}

// Transaction handles GET /v1/sessions/{transactionID}.
func (h *SessionsHandlers) Transaction(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/v1/sessions/"+url.PathEscape(r.PathValue("transactionID")))
}

// LastTransaction handles GET /v1/debug/ocpp/last-tx/{chargeBoxID}.
func (h *SessionsHandlers) LastTransaction(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/v1/debug/ocpp/last-tx/"+url.PathEscape(r.PathValue("chargeBoxID")))
}

// ChargePointStatus handles GET /v1/debug/ocpp/status/{chargeBoxID}.
func (h *SessionsHandlers) ChargePointStatus(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/v1/debug/ocpp/status/"+url.PathEscape(r.PathValue("chargeBoxID")))
}

// Billing handles GET /v1/billing/me/transactions.
func (h *SessionsHandlers) Billing(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/v1/billing/me/transactions")
}

func (h *SessionsHandlers) proxy(w http.ResponseWriter, r *http.Request, path string) {
	status, body, err := h.upstream.Do(r.Context(), http.MethodGet, path, nil)
	if err != nil {
		h.logger.Error("session proxy failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	writeRaw(w, status, body)
}
