package models

import (
	"strings"
	"time"
)

// OutcomeKind classifies the backend's answer to a remote command.
type OutcomeKind string

const (
	// OutcomeSent means the charger will process the command asynchronously.
	OutcomeSent OutcomeKind = "sent"
	// OutcomeIdempotentDuplicate means an equivalent command already exists or
	// was already satisfied; treated as success without re-issuing.
	OutcomeIdempotentDuplicate OutcomeKind = "idempotentDuplicate"
	// OutcomePending means the charge point is unreachable and the backend
	// queued the command for later delivery.
	OutcomePending OutcomeKind = "pending"
	// OutcomeError covers rejections and transport failures.
	OutcomeError OutcomeKind = "error"
)

// CommandOutcome is the normalized result of submitting a remote command.
// The raw response body never travels past the gateway boundary.
type CommandOutcome struct {
	Kind       OutcomeKind
	HTTPStatus int
	Message    string
}

// Accepted reports whether the command was taken by the backend, either
// freshly dispatched or recognized as an idempotent duplicate.
func (o CommandOutcome) Accepted() bool {
	return o.Kind == OutcomeSent || o.Kind == OutcomeIdempotentDuplicate
}

// Transaction is the backend record of one charging session. The client never
// creates these, it only discovers and reads them.
type Transaction struct {
	TransactionID int64      `json:"transactionId"`
	ChargeBoxID   string     `json:"chargeBoxId"`
	ConnectorID   int        `json:"connectorId"`
	IDTag         string     `json:"idTag"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Finished reports whether the session has ended, either by an explicit end
// timestamp or by a terminal status.
func (t *Transaction) Finished() bool {
	if t.EndedAt != nil && !t.EndedAt.IsZero() {
		return true
	}
	switch strings.ToLower(t.Status) {
	case "finished", "ended", "stopped":
		return true
	}
	return false
}

// ChargePointStatus is the liveness view used by the advisory pre-check.
type ChargePointStatus struct {
	ChargeBoxID   string    `json:"chargeBoxId"`
	Online        bool      `json:"online"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// RecentlySeen reports whether the charge point heartbeated within the window.
func (s *ChargePointStatus) RecentlySeen(window time.Duration) bool {
	if s.LastHeartbeat.IsZero() {
		return false
	}
	return time.Since(s.LastHeartbeat) <= window
}

// Session event types carried on the push channel.
const (
	EventSessionStart = "session-start"
	EventSessionEnd   = "session-end"
)

// SessionEvent is one notification from the push channel.
type SessionEvent struct {
	Type          string    `json:"type"`
	ChargeBoxID   string    `json:"chargeBoxId"`
	TransactionID int64     `json:"transactionId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Phase is the orchestrator's client-local state machine value.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseStarting Phase = "STARTING"
	PhaseCharging Phase = "CHARGING"
	PhaseStopping Phase = "STOPPING"
)

// BillingTransaction mirrors the billing history endpoint response.
type BillingTransaction struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"sessionId"`
	ChargeBoxID string    `json:"chargeBoxId"`
	EnergyKWh   float64   `json:"energyKwh"`
	PricePerKWh float64   `json:"pricePerKwh"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}
