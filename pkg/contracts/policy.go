package contracts

import "time"

// PolicyStatus is the lifecycle state of a Policy.
type PolicyStatus string

const (
	PolicyStatusDraft     PolicyStatus = "draft"
	PolicyStatusPublished PolicyStatus = "published"
)

// PolicyDecisionKind is the verdict a Rule can produce.
type PolicyDecisionKind string

const (
	DecisionAllow      PolicyDecisionKind = "allow"
	DecisionDeny       PolicyDecisionKind = "deny"
	DecisionApprove    PolicyDecisionKind = "approve"
	DecisionQuarantine PolicyDecisionKind = "quarantine"
)

// TimeWindowUTC restricts a rule's match to a window of UTC hours.
// If StartHour >= EndHour the window wraps across midnight.
type TimeWindowUTC struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// RuleMatch is the set of AND-combined predicates a Rule evaluates.
type RuleMatch struct {
	ToolIDs           []string       `json:"toolIds,omitempty"`
	Operations        []string       `json:"operations,omitempty"`
	TargetContains    string         `json:"targetContains,omitempty"`
	RiskTiers         []string       `json:"riskTiers,omitempty"`
	Environments      []string       `json:"environments,omitempty"`
	RequiredDataTypes []string       `json:"requiredDataTypes,omitempty"`
	TimeWindowUTC     *TimeWindowUTC `json:"timeWindowUtc,omitempty"`
}

// Rule is a single prioritized match/decision pair within a Policy.
type Rule struct {
	ID          string             `json:"id"`
	Description string             `json:"description,omitempty"`
	Priority    int                `json:"priority"`
	Match       RuleMatch          `json:"match"`
	Decision    PolicyDecisionKind `json:"decision"`
}

// Policy is a versioned, ordered set of rules for one tenant.
type Policy struct {
	PolicyID  string       `json:"policyId"`
	TenantID  string       `json:"tenantId"`
	Version   int          `json:"version"`
	Status    PolicyStatus `json:"status"`
	Rules     []Rule       `json:"rules"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// PolicyEvaluation is the result of evaluating an Action against a tenant's
// policy.
type PolicyEvaluation struct {
	Decision      PolicyDecisionKind `json:"decision"`
	PolicySetID   string             `json:"policySetId,omitempty"`
	PolicyVersion int                `json:"policyVersion,omitempty"`
	RuleIDs       []string           `json:"ruleIds,omitempty"`
	Rationale     string             `json:"rationale"`
}

// RollbackResult is returned by PolicyService.RollbackPolicy.
type RollbackResult struct {
	Policy                    *Policy `json:"policy"`
	PreviousPublishedPolicyID string  `json:"previousPublishedPolicyId,omitempty"`
}
