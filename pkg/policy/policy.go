// Package policy implements the Policy Service (spec L9): tenant policy
// CRUD, publish/rollback with the "at most one published policy per
// tenant" invariant, and rule-based evaluation. Grounded on
// core/pkg/governance/policy_engine.go's shape — a mutex-guarded registry
// producing a decision record per evaluation — but deliberately does not
// carry over its CEL-based (google/cel-go) evaluator: policy rules here
// are scoped to the documented match/decision rule shape as an explicit
// non-goal, so matching is plain structured predicate evaluation
// instead of a general-purpose expression language.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"
)

// Store persists Policy records.
type Store interface {
	PutPolicy(ctx context.Context, policy *contracts.Policy) error
	GetPolicy(ctx context.Context, tenantID, policyID string) (*contracts.Policy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*contracts.Policy, error)
	PublishedPolicy(ctx context.Context, tenantID string) (*contracts.Policy, error)
}

// Service is the Policy Service.
type Service struct {
	store Store
	clock func() time.Time

	mu        sync.Mutex
	tenantMus map[string]*sync.Mutex
}

// NewService constructs a Policy Service backed by store.
func NewService(store Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, clock: clock, tenantMus: make(map[string]*sync.Mutex)}
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tenantMus[tenantID]
	if !ok {
		m = &sync.Mutex{}
		s.tenantMus[tenantID] = m
	}
	return m
}

// CreatePolicy stores a new draft policy, rules sorted by descending
// priority, versioned one past the tenant's current highest version.
func (s *Service) CreatePolicy(ctx context.Context, tenantID string, rules []contracts.Rule) (*contracts.Policy, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	sorted := make([]contracts.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	existing, err := s.store.ListPolicies(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	version := 1
	for _, p := range existing {
		if p.Version >= version {
			version = p.Version + 1
		}
	}

	now := s.clock()
	policy := &contracts.Policy{
		PolicyID:  "pol_" + uuid.NewString(),
		TenantID:  tenantID,
		Version:   version,
		Status:    contracts.PolicyStatusDraft,
		Rules:     sorted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutPolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("policy: persist draft: %w", err)
	}
	return policy, nil
}

// PublishPolicy promotes a draft to published, atomically demoting any
// other published policy for the same tenant.
func (s *Service) PublishPolicy(ctx context.Context, tenantID, policyID string) (*contracts.Policy, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	target, err := s.store.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}

	if current, err := s.store.PublishedPolicy(ctx, tenantID); err == nil && current != nil && current.PolicyID != policyID {
		current.Status = contracts.PolicyStatusDraft
		current.UpdatedAt = s.clock()
		if err := s.store.PutPolicy(ctx, current); err != nil {
			return nil, fmt.Errorf("policy: demote current published: %w", err)
		}
	} else if err != nil && err != errs.ErrNotFound {
		return nil, err
	}

	target.Status = contracts.PolicyStatusPublished
	target.UpdatedAt = s.clock()
	if err := s.store.PutPolicy(ctx, target); err != nil {
		return nil, fmt.Errorf("policy: publish target: %w", err)
	}
	return target, nil
}

// RollbackPolicy publishes an older draft, demoting the currently
// published policy. Errors if the target is already the published
// policy.
func (s *Service) RollbackPolicy(ctx context.Context, tenantID, policyID string) (*contracts.RollbackResult, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	target, err := s.store.GetPolicy(ctx, tenantID, policyID)
	if err != nil {
		return nil, err
	}
	if target.Status == contracts.PolicyStatusPublished {
		return nil, fmt.Errorf("%w: policy %s is already published", errs.ErrConflict, policyID)
	}

	var previousID string
	if current, err := s.store.PublishedPolicy(ctx, tenantID); err == nil && current != nil {
		previousID = current.PolicyID
		current.Status = contracts.PolicyStatusDraft
		current.UpdatedAt = s.clock()
		if err := s.store.PutPolicy(ctx, current); err != nil {
			return nil, fmt.Errorf("policy: demote current published: %w", err)
		}
	} else if err != nil && err != errs.ErrNotFound {
		return nil, err
	}

	target.Status = contracts.PolicyStatusPublished
	target.UpdatedAt = s.clock()
	if err := s.store.PutPolicy(ctx, target); err != nil {
		return nil, fmt.Errorf("policy: publish rollback target: %w", err)
	}

	return &contracts.RollbackResult{Policy: target, PreviousPublishedPolicyID: previousID}, nil
}

// defaultRules implements the spec's fallback policy when a tenant has
// never published one: drop_database denies outright, high/critical risk
// requires approval, everything else falls through to Evaluate's
// no-match default allow.
var defaultRules = []contracts.Rule{
	{ID: "default_drop_database_deny", Priority: 100, Match: contracts.RuleMatch{Operations: []string{"drop_database"}}, Decision: contracts.DecisionDeny},
	{ID: "default_high_risk_approve", Priority: 50, Match: contracts.RuleMatch{RiskTiers: []string{contracts.RiskTierHigh, contracts.RiskTierCritical}}, Decision: contracts.DecisionApprove},
}

// Evaluate matches an action's resource/context/risk against the
// tenant's published policy (or the hard-coded default when none has
// been published), returning the first matching rule in descending
// priority order.
func (s *Service) Evaluate(ctx context.Context, action *contracts.Action, riskSnapshot contracts.RiskSnapshot, policyIDOverride string) (*contracts.PolicyEvaluation, error) {
	var rules []contracts.Rule
	var setID string
	var version int

	if policyIDOverride != "" {
		p, err := s.store.GetPolicy(ctx, action.TenantID, policyIDOverride)
		if err != nil {
			return nil, err
		}
		rules, setID, version = p.Rules, p.PolicyID, p.Version
	} else if p, err := s.store.PublishedPolicy(ctx, action.TenantID); err == nil && p != nil {
		rules, setID, version = p.Rules, p.PolicyID, p.Version
	} else if err != nil && err != errs.ErrNotFound {
		return nil, err
	} else {
		rules = defaultRules
	}

	for _, rule := range rules {
		if matches(rule.Match, action, riskSnapshot) {
			return &contracts.PolicyEvaluation{
				Decision:      rule.Decision,
				PolicySetID:   setID,
				PolicyVersion: version,
				RuleIDs:       []string{rule.ID},
				Rationale:     fmt.Sprintf("matched rule %s", rule.ID),
			}, nil
		}
	}

	return &contracts.PolicyEvaluation{
		Decision:      contracts.DecisionAllow,
		PolicySetID:   setID,
		PolicyVersion: version,
		Rationale:     "No matching rule; default allow.",
	}, nil
}

func matches(m contracts.RuleMatch, action *contracts.Action, risk contracts.RiskSnapshot) bool {
	if len(m.ToolIDs) > 0 && !contains(m.ToolIDs, action.Resource.ToolID) {
		return false
	}
	if len(m.Operations) > 0 && !contains(m.Operations, action.Resource.Operation) {
		return false
	}
	if m.TargetContains != "" && !strings.Contains(action.Resource.Target, m.TargetContains) {
		return false
	}
	if len(m.RiskTiers) > 0 && !contains(m.RiskTiers, risk.Tier) {
		return false
	}
	if len(m.Environments) > 0 && !contains(m.Environments, action.Context.Environment) {
		return false
	}
	if len(m.RequiredDataTypes) > 0 {
		for _, required := range m.RequiredDataTypes {
			if !contains(action.Context.DataTypes, required) {
				return false
			}
		}
	}
	if m.TimeWindowUTC != nil {
		requestedAt := action.Context.RequestedAt
		if requestedAt.IsZero() {
			requestedAt = action.CreatedAt
		}
		if !inWindow(*m.TimeWindowUTC, requestedAt) {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// inWindow reports whether t's UTC hour falls within [start,end); when
// start >= end the window wraps across midnight.
func inWindow(w contracts.TimeWindowUTC, t time.Time) bool {
	hour := t.UTC().Hour()
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// DecisionToState maps a PolicyDecisionKind to the resulting ActionState.
func DecisionToState(d contracts.PolicyDecisionKind) contracts.ActionState {
	switch d {
	case contracts.DecisionDeny:
		return contracts.ActionStateDenied
	case contracts.DecisionApprove:
		return contracts.ActionStateApprovalRequired
	case contracts.DecisionQuarantine:
		return contracts.ActionStateQuarantined
	default:
		return contracts.ActionStateApproved
	}
}
