// Package risk implements the Risk Service (spec L8): a pure, stateless
// scoring function over a resource/operation pair. Grounded on
// core/pkg/governance/risk_envelope.go's weighted-cost idiom (named risk
// levels, stable per-condition signal strings) but collapsed to the
// spec's deterministic point-scoring rule instead of sliding-window
// aggregate accounting, since L8 is explicitly "1% share, pure function".
package risk

import (
	"strings"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

var highRiskOperations = map[string]bool{
	"delete":             true,
	"drop_database":      true,
	"export_all":         true,
	"transfer_funds":     true,
	"change_permissions": true,
	"rotate_keys":        true,
}

var mediumRiskOperations = map[string]bool{
	"update":        true,
	"write":         true,
	"create_ticket": true,
	"send_email":    true,
}

// Evaluate scores an action's resource deterministically into [0,100],
// buckets it into a tier, and records a stable signal string for every
// condition that contributed to the score.
func Evaluate(resource contracts.Resource) contracts.RiskSnapshot {
	score := 20
	var signals []string

	switch {
	case highRiskOperations[resource.Operation]:
		score += 60
		signals = append(signals, "high_risk_operation:"+resource.Operation)
	case mediumRiskOperations[resource.Operation]:
		score += 25
		signals = append(signals, "medium_risk_operation:"+resource.Operation)
	}

	if strings.Contains(resource.Target, "prod") {
		score += 15
		signals = append(signals, "target_contains_prod")
	}
	if strings.Contains(resource.Target, "finance") {
		score += 20
		signals = append(signals, "target_contains_finance")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return contracts.RiskSnapshot{
		Score:   score,
		Tier:    tierFor(score),
		Signals: signals,
	}
}

func tierFor(score int) string {
	switch {
	case score >= 90:
		return contracts.RiskTierCritical
	case score >= 70:
		return contracts.RiskTierHigh
	case score >= 40:
		return contracts.RiskTierMedium
	default:
		return contracts.RiskTierLow
	}
}
