package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

const (
	remoteStartPath = "/v1/commands/remoteStart"
	remoteStopPath  = "/v1/commands/remoteStop"
)

// StartRequest describes a remote start intent.
type StartRequest struct {
	ChargeBoxID string
	IDTag       string
	// ConnectorID is omitted from the request unless positive; the backend
	// then picks a connector itself.
	ConnectorID int
	Force       bool
}

// CommandsClient issues Start/Stop commands and normalizes the response into
// a CommandOutcome. It holds no shared state and never retries.
type CommandsClient struct {
	base   *BaseClient
	logger *zap.Logger
}

// NewCommandsClient returns the command gateway client.
func NewCommandsClient(baseURL, token string, httpClient HTTPDoer, logger *zap.Logger) *CommandsClient {
	return &CommandsClient{
		base:   NewBaseClient(baseURL, token, httpClient),
		logger: logger,
	}
}

// Classify maps an HTTP status code onto an outcome kind. The status code is
// the canonical signal; response body shapes are backend-controlled and may
// vary.
func Classify(status int) models.OutcomeKind {
	switch status {
	case http.StatusAccepted:
		return models.OutcomeSent
	case http.StatusOK:
		return models.OutcomeIdempotentDuplicate
	case http.StatusConflict:
		return models.OutcomePending
	default:
		return models.OutcomeError
	}
}

// SubmitStart issues a single remote start command. Transport failures are
// folded into an error outcome; callers never see raw errors.
func (c *CommandsClient) SubmitStart(ctx context.Context, req StartRequest) models.CommandOutcome {
	idTag := strings.TrimSpace(req.IDTag)
	if idTag == "" {
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "idTag is required"}
	}
	chargeBoxID := strings.TrimSpace(req.ChargeBoxID)
	if chargeBoxID == "" {
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "chargeBoxId is required"}
	}

	payload := map[string]interface{}{
		"chargeBoxId": chargeBoxID,
		"idTag":       idTag,
	}
	if req.ConnectorID > 0 {
		payload["connectorId"] = req.ConnectorID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "encode request: " + err.Error()}
	}

	path := remoteStartPath
	if req.Force {
		path += "?force=1"
	}

	status, respBody, err := c.base.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		c.logger.Warn("remote start transport failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "network error: " + err.Error()}
	}

	outcome := buildOutcome(status, respBody)
	c.logger.Info("remote start classified",
		zap.String("charge_box_id", chargeBoxID),
		zap.Int("http_status", status),
		zap.String("outcome", string(outcome.Kind)))
	return outcome
}

// SubmitStop issues a single remote stop command for a resolved transaction.
func (c *CommandsClient) SubmitStop(ctx context.Context, transactionID int64) models.CommandOutcome {
	if transactionID <= 0 {
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "transactionId is required"}
	}

	body, err := json.Marshal(map[string]interface{}{"transactionId": transactionID})
	if err != nil {
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "encode request: " + err.Error()}
	}

	status, respBody, err := c.base.Do(ctx, http.MethodPost, remoteStopPath, body)
	if err != nil {
		c.logger.Warn("remote stop transport failed", zap.Int64("transaction_id", transactionID), zap.Error(err))
		return models.CommandOutcome{Kind: models.OutcomeError, Message: "network error: " + err.Error()}
	}

	outcome := buildOutcome(status, respBody)
	c.logger.Info("remote stop classified",
		zap.Int64("transaction_id", transactionID),
		zap.Int("http_status", status),
		zap.String("outcome", string(outcome.Kind)))
	return outcome
}

func buildOutcome(status int, body []byte) models.CommandOutcome {
	kind := Classify(status)
	outcome := models.CommandOutcome{Kind: kind, HTTPStatus: status}
	switch kind {
	case models.OutcomePending:
		outcome.Message = "charge point unreachable; command queued by backend"
	case models.OutcomeError:
		outcome.Message = errorMessage(status, body)
	}
	return outcome
}

// errorMessage pulls the backend-supplied reason out of the body when one is
// present, otherwise falls back to a generic HTTP message.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(parsed.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
