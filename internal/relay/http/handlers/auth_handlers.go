package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"voltlink/internal/relay/auth"
)

// AuthHandlers exchanges app credentials for bearer tokens.
type AuthHandlers struct {
	appID         string
	appSecretHash string
	hasher        auth.SecretHasher
	tokens        *auth.TokenService
	logger        *zap.Logger
}

// NewAuthHandlers returns handler.
func NewAuthHandlers(appID, appSecretHash string, hasher auth.SecretHasher, tokens *auth.TokenService, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		appID:         appID,
		appSecretHash: appSecretHash,
		hasher:        hasher,
		tokens:        tokens,
		logger:        logger,
	}
}

// Token handles POST /v1/auth/token.
func (h *AuthHandlers) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID     string `json:"appId"`
		AppSecret string `json:"appSecret"`
		DeviceID  string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	if req.AppID != h.appID || h.hasher.Compare(h.appSecretHash, req.AppSecret) != nil {
		h.logger.Warn("token request with bad credentials", zap.String("app_id", req.AppID))
		writeError(w, http.StatusUnauthorized, "invalid app credentials")
		return
	}

	token, err := h.tokens.GenerateToken(req.DeviceID, req.AppID)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
