package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type policyDoc struct {
	Policies map[string]map[string]*contracts.Policy `json:"policies"` // tenantId -> policyId -> policy
}

// FilePolicyStore implements pkg/policy.Store over a JSON file.
type FilePolicyStore struct {
	file *jsonFile[policyDoc]
}

func NewFilePolicyStore(path string) (*FilePolicyStore, error) {
	f, err := openJSONFile(path, policyDoc{Policies: make(map[string]map[string]*contracts.Policy)})
	if err != nil {
		return nil, fmt.Errorf("store: open policy file: %w", err)
	}
	return &FilePolicyStore{file: f}, nil
}

func (s *FilePolicyStore) PutPolicy(_ context.Context, p *contracts.Policy) error {
	return s.file.withLock(true, func(d *policyDoc) {
		if d.Policies[p.TenantID] == nil {
			d.Policies[p.TenantID] = make(map[string]*contracts.Policy)
		}
		cp := *p
		d.Policies[p.TenantID][p.PolicyID] = &cp
	})
}

func (s *FilePolicyStore) GetPolicy(_ context.Context, tenantID, policyID string) (*contracts.Policy, error) {
	var out *contracts.Policy
	_ = s.file.withLock(false, func(d *policyDoc) {
		if p, ok := d.Policies[tenantID][policyID]; ok {
			cp := *p
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FilePolicyStore) ListPolicies(_ context.Context, tenantID string) ([]*contracts.Policy, error) {
	var out []*contracts.Policy
	_ = s.file.withLock(false, func(d *policyDoc) {
		for _, p := range d.Policies[tenantID] {
			cp := *p
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (s *FilePolicyStore) PublishedPolicy(_ context.Context, tenantID string) (*contracts.Policy, error) {
	var out *contracts.Policy
	_ = s.file.withLock(false, func(d *policyDoc) {
		for _, p := range d.Policies[tenantID] {
			if p.Status != contracts.PolicyStatusPublished {
				continue
			}
			if out == nil || p.Version > out.Version {
				cp := *p
				out = &cp
			}
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}
