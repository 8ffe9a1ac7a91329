package risk

import (
	"testing"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate_MediumRiskCreateTicket(t *testing.T) {
	snap := Evaluate(contracts.Resource{ToolID: "jira", Operation: "create_ticket", Target: "project:SEC"})
	assert.Equal(t, 45, snap.Score)
	assert.Equal(t, contracts.RiskTierMedium, snap.Tier)
}

func TestEvaluate_HighRiskChangePermissionsOnProdFinance(t *testing.T) {
	snap := Evaluate(contracts.Resource{ToolID: "iam", Operation: "change_permissions", Target: "prod:finance"})
	assert.Equal(t, 100, snap.Score) // 20+60+15+20 = 115, capped at 100
	assert.Equal(t, contracts.RiskTierCritical, snap.Tier)
	assert.Contains(t, snap.Signals, "high_risk_operation:change_permissions")
	assert.Contains(t, snap.Signals, "target_contains_prod")
	assert.Contains(t, snap.Signals, "target_contains_finance")
}

func TestEvaluate_BaselineUnknownOperation(t *testing.T) {
	snap := Evaluate(contracts.Resource{ToolID: "slack", Operation: "read_channel", Target: "general"})
	assert.Equal(t, 20, snap.Score)
	assert.Equal(t, contracts.RiskTierLow, snap.Tier)
	assert.Empty(t, snap.Signals)
}

func TestEvaluate_TierBoundaries(t *testing.T) {
	cases := []struct {
		operation string
		target    string
		wantTier  string
	}{
		{"drop_database", "prod:finance", contracts.RiskTierCritical}, // 20+60+15+20=115->100
		{"delete", "staging", contracts.RiskTierHigh},                 // 20+60=80
		{"update", "staging", contracts.RiskTierMedium},               // 20+25=45
		{"read", "staging", contracts.RiskTierLow},                    // 20
	}
	for _, c := range cases {
		snap := Evaluate(contracts.Resource{Operation: c.operation, Target: c.target})
		assert.Equal(t, c.wantTier, snap.Tier, "operation=%s target=%s score=%d", c.operation, c.target, snap.Score)
	}
}
