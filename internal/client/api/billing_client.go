package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

// BillingClient fetches billing history for the signed-in device.
type BillingClient struct {
	base   *BaseClient
	logger *zap.Logger
}

// NewBillingClient returns client.
func NewBillingClient(baseURL, token string, httpClient HTTPDoer, logger *zap.Logger) *BillingClient {
	return &BillingClient{
		base:   NewBaseClient(baseURL, token, httpClient),
		logger: logger,
	}
}

// TransactionsMe fetches the caller's billing transactions.
func (c *BillingClient) TransactionsMe(ctx context.Context) ([]models.BillingTransaction, error) {
	status, body, err := c.base.Do(ctx, http.MethodGet, "/v1/billing/me/transactions", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("billing history: HTTP %d", status)
	}
	var payload struct {
		Transactions []models.BillingTransaction `json:"transactions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("billing history: decode: %w", err)
	}
	return payload.Transactions, nil
}
