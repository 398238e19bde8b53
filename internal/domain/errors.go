package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage. Stages wrap these sentinels with
// context; callers branch on them with errors.Is.
var (
	// ErrInsufficientData means the input fell below a minimum history or
	// sample threshold. Recoverable by waiting for more data; never retried
	// automatically.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConvergenceFailure means a numerical fit did not reach a stable
	// optimum even after local recovery (widened regularization).
	ErrConvergenceFailure = errors.New("fit did not converge")

	// ErrInvalidInput means a schema violation at the aggregator boundary:
	// negative amounts, malformed dates, rows outside the analysis window.
	// Rejected, never silently coerced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelStale means the registry's current snapshot exceeds the
	// staleness threshold. Surfaced as a warning annotation, not a failure.
	ErrModelStale = errors.New("model snapshot stale")

	// ErrOptimizerInfeasible means the allocation constraints cannot be
	// satisfied (negative budget, no channels). Rejected before solving.
	ErrOptimizerInfeasible = errors.New("optimizer constraints infeasible")
)

// StageError attaches pipeline context to a failure so the caller can decide
// whether to retry, wait, or alert a human.
type StageError struct {
	Stage    string
	TenantID string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (tenant %s): %v", e.Stage, e.TenantID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with stage and tenant context.
func NewStageError(stage, tenantID string, err error) *StageError {
	return &StageError{Stage: stage, TenantID: tenantID, Err: err}
}
