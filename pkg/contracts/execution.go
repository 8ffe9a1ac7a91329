package contracts

import "time"

// ConnectorResult is what a Connector.Execute returns.
type ConnectorResult struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecutionResult is the Execution Service's result after sandbox checks,
// secret checks, dispatch, and output sanitization.
type ExecutionResult struct {
	Success     bool      `json:"success"`
	Output      any       `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
	ExecutedAt  time.Time `json:"executedAt"`
}

// RiskTier buckets a RiskSnapshot.Score.
const (
	RiskTierCritical = "critical"
	RiskTierHigh     = "high"
	RiskTierMedium   = "medium"
	RiskTierLow      = "low"
)
