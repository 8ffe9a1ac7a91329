package policy

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"gopkg.in/yaml.v3"
)

// Bundle is the human-editable YAML form of a tenant's rule set: what an
// operator checks into a policy repository and applies with
// ImportBundle, and what ExportBundle produces for review or backup. It
// deliberately carries only Rules, not lifecycle fields (PolicyID,
// Version, Status) — those are assigned by CreatePolicy/PublishPolicy on
// import, the same way the teacher's config loaders treat YAML as
// desired-state input rather than a serialization of a stored record.
type Bundle struct {
	TenantID string       `yaml:"tenantId"`
	Rules    []BundleRule `yaml:"rules"`
}

// BundleRule mirrors contracts.Rule in YAML's native tag casing.
type BundleRule struct {
	ID       string          `yaml:"id"`
	Priority int             `yaml:"priority"`
	Match    BundleRuleMatch `yaml:"match,omitempty"`
	Decision string          `yaml:"decision"`
}

// BundleRuleMatch mirrors contracts.RuleMatch.
type BundleRuleMatch struct {
	ToolIDs           []string `yaml:"toolIds,omitempty"`
	Operations        []string `yaml:"operations,omitempty"`
	TargetContains    string   `yaml:"targetContains,omitempty"`
	RiskTiers         []string `yaml:"riskTiers,omitempty"`
	Environments      []string `yaml:"environments,omitempty"`
	RequiredDataTypes []string `yaml:"requiredDataTypes,omitempty"`
}

// ParseBundle decodes a YAML policy bundle document.
func ParseBundle(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("policy: parse bundle: %w", err)
	}
	return &b, nil
}

// ToRules converts a bundle's rules into the contracts.Rule shape
// CreatePolicy expects.
func (b *Bundle) ToRules() []contracts.Rule {
	out := make([]contracts.Rule, 0, len(b.Rules))
	for _, r := range b.Rules {
		out = append(out, contracts.Rule{
			ID:       r.ID,
			Priority: r.Priority,
			Match: contracts.RuleMatch{
				ToolIDs:           r.Match.ToolIDs,
				Operations:        r.Match.Operations,
				TargetContains:    r.Match.TargetContains,
				RiskTiers:         r.Match.RiskTiers,
				Environments:      r.Match.Environments,
				RequiredDataTypes: r.Match.RequiredDataTypes,
			},
			Decision: contracts.PolicyDecisionKind(r.Decision),
		})
	}
	return out
}

// bundleFromPolicy builds the YAML-serializable view of a stored Policy.
func bundleFromPolicy(p *contracts.Policy) *Bundle {
	b := &Bundle{TenantID: p.TenantID, Rules: make([]BundleRule, 0, len(p.Rules))}
	for _, r := range p.Rules {
		b.Rules = append(b.Rules, BundleRule{
			ID:       r.ID,
			Priority: r.Priority,
			Decision: string(r.Decision),
			Match: BundleRuleMatch{
				ToolIDs:           r.Match.ToolIDs,
				Operations:        r.Match.Operations,
				TargetContains:    r.Match.TargetContains,
				RiskTiers:         r.Match.RiskTiers,
				Environments:      r.Match.Environments,
				RequiredDataTypes: r.Match.RequiredDataTypes,
			},
		})
	}
	return b
}

// MarshalBundle serializes b to YAML.
func MarshalBundle(b *Bundle) ([]byte, error) {
	out, err := yaml.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal bundle: %w", err)
	}
	return out, nil
}

// ImportBundle creates a new draft policy from a parsed YAML bundle.
func (s *Service) ImportBundle(ctx context.Context, tenantID string, bundle *Bundle) (*contracts.Policy, error) {
	return s.CreatePolicy(ctx, tenantID, bundle.ToRules())
}

// ExportBundle serializes a tenant's policy (by ID, or the published
// policy when policyID is empty) to a YAML bundle.
func (s *Service) ExportBundle(ctx context.Context, tenantID, policyID string) ([]byte, error) {
	var (
		p   *contracts.Policy
		err error
	)
	if policyID != "" {
		p, err = s.store.GetPolicy(ctx, tenantID, policyID)
	} else {
		p, err = s.store.PublishedPolicy(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}
	return MarshalBundle(bundleFromPolicy(p))
}
