package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// ErrNoPredictions is returned when a lookup matches nothing.
var ErrNoPredictions = errors.New("no predictions found")

// PredictionRepo persists per-run prediction records, scoped by tenant.
type PredictionRepo struct{ db *sql.DB }

// NewPredictionRepo creates a Postgres-backed prediction repository.
func NewPredictionRepo(db *sql.DB) *PredictionRepo { return &PredictionRepo{db: db} }

// SaveBatch writes one run's records in a single transaction. A failed run
// never leaves a partial batch behind.
func (r *PredictionRepo) SaveBatch(ctx context.Context, tenantID string, records []domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prediction batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO predictions (tenant_id, customer_id, snapshot_id, prob_alive, expected_purchases,
		                         horizon_days, predicted_value, interval_lower, interval_upper,
		                         segment, reason_code, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("prepare prediction insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range records {
		if _, err := stmt.ExecContext(ctx,
			tenantID, p.CustomerID, p.SnapshotID, p.ProbAlive, p.ExpectedPurchases,
			p.HorizonDays, p.PredictedValue, p.ValueInterval.Lower, p.ValueInterval.Upper,
			string(p.Segment), string(p.Reason), pq.Array(p.Warnings), p.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert prediction for %s: %w", p.CustomerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prediction batch: %w", err)
	}
	return nil
}

// GetByCustomer returns a customer's record for one snapshot.
func (r *PredictionRepo) GetByCustomer(ctx context.Context, tenantID, customerID, snapshotID string) (*domain.PredictionRecord, error) {
	p := &domain.PredictionRecord{}
	var segment, reason string
	var warnings pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_id, snapshot_id, prob_alive, expected_purchases, horizon_days,
		       predicted_value, interval_lower, interval_upper, segment, reason_code,
		       warnings, created_at
		FROM predictions
		WHERE tenant_id = $1 AND customer_id = $2 AND snapshot_id = $3
	`, tenantID, customerID, snapshotID).Scan(
		&p.CustomerID, &p.SnapshotID, &p.ProbAlive, &p.ExpectedPurchases, &p.HorizonDays,
		&p.PredictedValue, &p.ValueInterval.Lower, &p.ValueInterval.Upper, &segment, &reason,
		&warnings, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoPredictions
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction: %w", err)
	}
	p.Segment = domain.SegmentLabel(segment)
	p.Reason = domain.ReasonCode(reason)
	p.Warnings = warnings
	return p, nil
}

// ListBySnapshot returns all records for one run, ordered by customer.
func (r *PredictionRepo) ListBySnapshot(ctx context.Context, tenantID, snapshotID string, limit, offset int) ([]domain.PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT customer_id, snapshot_id, prob_alive, expected_purchases, horizon_days,
		       predicted_value, interval_lower, interval_upper, segment, reason_code,
		       warnings, created_at
		FROM predictions
		WHERE tenant_id = $1 AND snapshot_id = $2
		ORDER BY customer_id
		LIMIT $3 OFFSET $4
	`, tenantID, snapshotID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []domain.PredictionRecord
	for rows.Next() {
		var p domain.PredictionRecord
		var segment, reason string
		var warnings pq.StringArray
		if err := rows.Scan(
			&p.CustomerID, &p.SnapshotID, &p.ProbAlive, &p.ExpectedPurchases, &p.HorizonDays,
			&p.PredictedValue, &p.ValueInterval.Lower, &p.ValueInterval.Upper, &segment, &reason,
			&warnings, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		p.Segment = domain.SegmentLabel(segment)
		p.Reason = domain.ReasonCode(reason)
		p.Warnings = warnings
		out = append(out, p)
	}
	return out, rows.Err()
}

// SegmentCounts returns the per-segment customer counts for one run.
func (r *PredictionRepo) SegmentCounts(ctx context.Context, tenantID, snapshotID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT segment, COUNT(*)
		FROM predictions
		WHERE tenant_id = $1 AND snapshot_id = $2
		GROUP BY segment
	`, tenantID, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("segment counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var segment string
		var count int
		if err := rows.Scan(&segment, &count); err != nil {
			return nil, fmt.Errorf("scan segment count: %w", err)
		}
		out[segment] = count
	}
	return out, rows.Err()
}
