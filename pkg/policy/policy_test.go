package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	policies map[string]map[string]*contracts.Policy
}

func newMemStore() *memStore {
	return &memStore{policies: make(map[string]map[string]*contracts.Policy)}
}

func (m *memStore) PutPolicy(_ context.Context, p *contracts.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policies[p.TenantID] == nil {
		m.policies[p.TenantID] = make(map[string]*contracts.Policy)
	}
	cp := *p
	m.policies[p.TenantID][p.PolicyID] = &cp
	return nil
}

func (m *memStore) GetPolicy(_ context.Context, tenantID, policyID string) (*contracts.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[tenantID][policyID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPolicies(_ context.Context, tenantID string) ([]*contracts.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*contracts.Policy, 0, len(m.policies[tenantID]))
	for _, p := range m.policies[tenantID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) PublishedPolicy(_ context.Context, tenantID string) (*contracts.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.policies[tenantID] {
		if p.Status == contracts.PolicyStatusPublished {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func TestCreatePolicy_SortsRulesByDescendingPriority(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	p, err := svc.CreatePolicy(ctx, "tenant_alpha", []contracts.Rule{
		{ID: "low", Priority: 1, Decision: contracts.DecisionAllow},
		{ID: "high", Priority: 100, Decision: contracts.DecisionDeny},
		{ID: "mid", Priority: 50, Decision: contracts.DecisionApprove},
	})
	require.NoError(t, err)
	require.Len(t, p.Rules, 3)
	assert.Equal(t, "high", p.Rules[0].ID)
	assert.Equal(t, "mid", p.Rules[1].ID)
	assert.Equal(t, "low", p.Rules[2].ID)
}

func TestPublishPolicy_AtMostOnePublished(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, nil)

	p1, err := svc.CreatePolicy(ctx, "tenant_alpha", nil)
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p1.PolicyID)
	require.NoError(t, err)

	p2, err := svc.CreatePolicy(ctx, "tenant_alpha", nil)
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p2.PolicyID)
	require.NoError(t, err)

	all, err := store.ListPolicies(ctx, "tenant_alpha")
	require.NoError(t, err)
	publishedCount := 0
	for _, p := range all {
		if p.Status == contracts.PolicyStatusPublished {
			publishedCount++
		}
	}
	assert.Equal(t, 1, publishedCount)
}

func TestRollbackPolicy_RejectsAlreadyPublished(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	p1, err := svc.CreatePolicy(ctx, "tenant_alpha", nil)
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p1.PolicyID)
	require.NoError(t, err)

	_, err = svc.RollbackPolicy(ctx, "tenant_alpha", p1.PolicyID)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestRollbackPolicy_DemotesCurrentAndPublishesTarget(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	p1, err := svc.CreatePolicy(ctx, "tenant_alpha", nil)
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p1.PolicyID)
	require.NoError(t, err)

	p2, err := svc.CreatePolicy(ctx, "tenant_alpha", nil)
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p2.PolicyID)
	require.NoError(t, err)

	result, err := svc.RollbackPolicy(ctx, "tenant_alpha", p1.PolicyID)
	require.NoError(t, err)
	assert.Equal(t, p2.PolicyID, result.PreviousPublishedPolicyID)
	assert.Equal(t, contracts.PolicyStatusPublished, result.Policy.Status)
}

func TestEvaluate_DefaultPolicy_DropDatabaseDenied(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	action := &contracts.Action{
		TenantID: "tenant_alpha",
		Resource: contracts.Resource{ToolID: "database", Operation: "drop_database", Target: "prod:db1"},
	}
	eval, err := svc.Evaluate(ctx, action, contracts.RiskSnapshot{Tier: contracts.RiskTierCritical}, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionDeny, eval.Decision)
}

func TestEvaluate_DefaultPolicy_HighRiskRequiresApproval(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	action := &contracts.Action{
		TenantID: "tenant_alpha",
		Resource: contracts.Resource{ToolID: "iam", Operation: "change_permissions", Target: "prod:finance"},
	}
	eval, err := svc.Evaluate(ctx, action, contracts.RiskSnapshot{Tier: contracts.RiskTierCritical}, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionApprove, eval.Decision)
}

func TestEvaluate_DefaultAllowWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	action := &contracts.Action{
		TenantID: "tenant_alpha",
		Resource: contracts.Resource{ToolID: "jira", Operation: "create_ticket", Target: "project:SEC"},
	}
	eval, err := svc.Evaluate(ctx, action, contracts.RiskSnapshot{Tier: contracts.RiskTierLow}, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionAllow, eval.Decision)
	assert.Equal(t, "No matching rule; default allow.", eval.Rationale)
}

func TestEvaluate_FirstMatchingRuleByPriorityWins(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	p, err := svc.CreatePolicy(ctx, "tenant_alpha", []contracts.Rule{
		{ID: "generic_allow", Priority: 1, Match: contracts.RuleMatch{ToolIDs: []string{"jira"}}, Decision: contracts.DecisionAllow},
		{ID: "specific_deny", Priority: 10, Match: contracts.RuleMatch{ToolIDs: []string{"jira"}, Operations: []string{"delete"}}, Decision: contracts.DecisionDeny},
	})
	require.NoError(t, err)
	_, err = svc.PublishPolicy(ctx, "tenant_alpha", p.PolicyID)
	require.NoError(t, err)

	action := &contracts.Action{
		TenantID: "tenant_alpha",
		Resource: contracts.Resource{ToolID: "jira", Operation: "delete", Target: "issue:1"},
	}
	eval, err := svc.Evaluate(ctx, action, contracts.RiskSnapshot{Tier: contracts.RiskTierHigh}, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionDeny, eval.Decision)
	assert.Equal(t, []string{"specific_deny"}, eval.RuleIDs)
}

func TestInWindow_WrapsAcrossMidnight(t *testing.T) {
	w := contracts.TimeWindowUTC{StartHour: 22, EndHour: 2}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, hour := range []int{22, 23, 0, 1} {
		tm := base.Add(time.Duration(hour) * time.Hour)
		assert.True(t, inWindow(w, tm), "hour %d should be in window", hour)
	}
	for _, hour := range []int{2, 10, 21} {
		tm := base.Add(time.Duration(hour) * time.Hour)
		assert.False(t, inWindow(w, tm), "hour %d should not be in window", hour)
	}
}

func TestDecisionToState(t *testing.T) {
	assert.Equal(t, contracts.ActionStateDenied, DecisionToState(contracts.DecisionDeny))
	assert.Equal(t, contracts.ActionStateApprovalRequired, DecisionToState(contracts.DecisionApprove))
	assert.Equal(t, contracts.ActionStateQuarantined, DecisionToState(contracts.DecisionQuarantine))
	assert.Equal(t, contracts.ActionStateApproved, DecisionToState(contracts.DecisionAllow))
}
