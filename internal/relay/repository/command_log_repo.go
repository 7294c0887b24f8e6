package repository

import (
	"context"
	"database/sql"
	"time"
)

// CommandRecord is one audited remote command.
type CommandRecord struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	ChargeBoxID   string    `json:"chargeBoxId"`
	DeviceID      string    `json:"deviceId"`
	TransactionID int64     `json:"transactionId,omitempty"`
	HTTPStatus    int       `json:"httpStatus"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// CommandLogRepo audits every command the relay forwards. Purely
// observational; command semantics never depend on it.
type CommandLogRepo struct {
	pool *sql.DB
}

// NewCommandLogRepo returns repo.
func NewCommandLogRepo(pool *sql.DB) *CommandLogRepo {
	return &CommandLogRepo{pool: pool}
}

// Record inserts one audit row.
func (r *CommandLogRepo) Record(ctx context.Context, rec CommandRecord) error {
	const query = `
		INSERT INTO relay_command_log (kind, charge_box_id, device_id, transaction_id, http_status, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.ExecContext(ctx, query,
		rec.Kind, rec.ChargeBoxID, rec.DeviceID, rec.TransactionID, rec.HTTPStatus, rec.IssuedAt.UTC())
	return err
}

// ListRecent returns the latest audited commands for a charge box.
func (r *CommandLogRepo) ListRecent(ctx context.Context, chargeBoxID string, limit int) ([]CommandRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `
		SELECT id, kind, charge_box_id, device_id, transaction_id, http_status, issued_at
		FROM relay_command_log
		WHERE charge_box_id = $1
		ORDER BY issued_at DESC
		LIMIT $2`
	rows, err := r.pool.QueryContext(ctx, query, chargeBoxID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.ChargeBoxID, &rec.DeviceID, &rec.TransactionID, &rec.HTTPStatus, &rec.IssuedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
