package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/asanchezmanas/tactics/internal/domain"
)

// ErrNoAllocation is returned when no allocation exists for a snapshot.
var ErrNoAllocation = errors.New("no allocation found")

// AllocationRepo persists budget allocations, one per snapshot per tenant.
// Amounts, bands and marginal figures are stored as JSON blobs; they are
// read back whole, never queried by channel.
type AllocationRepo struct{ db *sql.DB }

// NewAllocationRepo creates a Postgres-backed allocation repository.
func NewAllocationRepo(db *sql.DB) *AllocationRepo { return &AllocationRepo{db: db} }

func (r *AllocationRepo) Save(ctx context.Context, tenantID string, a domain.BudgetAllocation) error {
	amounts, err := json.Marshal(a.Amounts)
	if err != nil {
		return fmt.Errorf("marshal allocation amounts: %w", err)
	}
	bands, err := json.Marshal(a.Bands)
	if err != nil {
		return fmt.Errorf("marshal allocation bands: %w", err)
	}
	marginal, err := json.Marshal(a.MarginalROAS)
	if err != nil {
		return fmt.Errorf("marshal marginal roas: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO budget_allocations (tenant_id, snapshot_id, total_budget, amounts, bands,
		                                expected_outcome, outcome_lower, outcome_upper,
		                                marginal_roas, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tenantID, a.SnapshotID, a.TotalBudget, amounts, bands,
		a.ExpectedOutcome, a.OutcomeInterval.Lower, a.OutcomeInterval.Upper,
		marginal, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

func (r *AllocationRepo) GetBySnapshot(ctx context.Context, tenantID, snapshotID string) (*domain.BudgetAllocation, error) {
	a := &domain.BudgetAllocation{}
	var amounts, bands, marginal []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT snapshot_id, total_budget, amounts, bands, expected_outcome,
		       outcome_lower, outcome_upper, marginal_roas, created_at
		FROM budget_allocations
		WHERE tenant_id = $1 AND snapshot_id = $2
	`, tenantID, snapshotID).Scan(
		&a.SnapshotID, &a.TotalBudget, &amounts, &bands, &a.ExpectedOutcome,
		&a.OutcomeInterval.Lower, &a.OutcomeInterval.Upper, &marginal, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoAllocation
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}

	if err := json.Unmarshal(amounts, &a.Amounts); err != nil {
		return nil, fmt.Errorf("unmarshal allocation amounts: %w", err)
	}
	if len(bands) > 0 {
		if err := json.Unmarshal(bands, &a.Bands); err != nil {
			return nil, fmt.Errorf("unmarshal allocation bands: %w", err)
		}
	}
	if len(marginal) > 0 {
		if err := json.Unmarshal(marginal, &a.MarginalROAS); err != nil {
			return nil, fmt.Errorf("unmarshal marginal roas: %w", err)
		}
	}
	return a, nil
}
