package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

// SessionsClient reads transaction and charge-point state from the relay.
type SessionsClient struct {
	base   *BaseClient
	logger *zap.Logger
}

// NewSessionsClient returns the sessions lookup client.
func NewSessionsClient(baseURL, token string, httpClient HTTPDoer, logger *zap.Logger) *SessionsClient {
	return &SessionsClient{
		base:   NewBaseClient(baseURL, token, httpClient),
		logger: logger,
	}
}

// ActiveTransaction returns the active transaction for a charge box, or nil
// when there is none.
func (c *SessionsClient) ActiveTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error) {
	path := "/v1/sessions/active/" + url.PathEscape(chargeBoxID)
	return c.fetchTransaction(ctx, path)
}

// Transaction returns one transaction record by id, or nil when unknown.
func (c *SessionsClient) Transaction(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	path := fmt.Sprintf("/v1/sessions/%d", transactionID)
	return c.fetchTransaction(ctx, path)
}

// LastTransaction queries the debug last-known-transaction endpoint. Used as
// the final fallback when resolving a transaction id for Stop.
func (c *SessionsClient) LastTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error) {
	path := "/v1/debug/ocpp/last-tx/" + url.PathEscape(chargeBoxID)
	return c.fetchTransaction(ctx, path)
}

// ChargePointStatus returns charge-point liveness for the advisory pre-check.
func (c *SessionsClient) ChargePointStatus(ctx context.Context, chargeBoxID string) (*models.ChargePointStatus, error) {
	path := "/v1/debug/ocpp/status/" + url.PathEscape(chargeBoxID)
	status, body, err := c.base.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("charge point status: HTTP %d", status)
	}
	var cp models.ChargePointStatus
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, fmt.Errorf("charge point status: decode: %w", err)
	}
	return &cp, nil
}

func (c *SessionsClient) fetchTransaction(ctx context.Context, path string) (*models.Transaction, error) {
	status, body, err := c.base.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("transaction lookup: HTTP %d", status)
	}
	var tx models.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("transaction lookup: decode: %w", err)
	}
	if tx.TransactionID == 0 {
		return nil, nil
	}
	return &tx, nil
}
