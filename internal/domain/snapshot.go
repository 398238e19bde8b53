package domain

import (
	"encoding/json"
	"time"
)

// Model names recognized by the registry. One namespace per tenant holds a
// current pointer and immutable versions per model name.
const (
	ModelPurchaseProcess = "purchase_process"
	ModelMonetaryValue   = "monetary_value"
	ModelResponseCurves  = "response_curves"
)

// ModelSnapshot is an immutable, content-addressed record binding a model
// name to its parameter blob and the metrics that justified creating it.
// Snapshots are never overwritten; only the tenant's current pointer moves.
type ModelSnapshot struct {
	VersionID    string             `json:"version_id" db:"version_id"`
	TenantID     string             `json:"tenant_id" db:"tenant_id"`
	ModelName    string             `json:"model_name" db:"model_name"`
	Params       json.RawMessage    `json:"params" db:"params"`
	ParamsDigest string             `json:"params_digest" db:"params_digest"`
	Metrics      map[string]float64 `json:"metrics"`
	Reason       string             `json:"reason" db:"reason"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

// Snapshot reasons recorded alongside a version.
const (
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
	ReasonDrift     = "drift"
)
