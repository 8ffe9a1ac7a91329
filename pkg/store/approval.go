package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type approvalDoc struct {
	Approvals map[string]map[string]*contracts.Approval `json:"approvals"` // tenantId -> approvalId -> approval
	Workflows map[string]*contracts.ApprovalWorkflow    `json:"workflows"` // tenantId -> workflow
}

// FileApprovalStore implements both pkg/approval.Store and
// pkg/approval.WorkflowStore over a single JSON file.
type FileApprovalStore struct {
	file *jsonFile[approvalDoc]
}

func NewFileApprovalStore(path string) (*FileApprovalStore, error) {
	f, err := openJSONFile(path, approvalDoc{
		Approvals: make(map[string]map[string]*contracts.Approval),
		Workflows: make(map[string]*contracts.ApprovalWorkflow),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open approval file: %w", err)
	}
	return &FileApprovalStore{file: f}, nil
}

func (s *FileApprovalStore) PutApproval(_ context.Context, a *contracts.Approval) error {
	return s.file.withLock(true, func(d *approvalDoc) {
		if d.Approvals[a.TenantID] == nil {
			d.Approvals[a.TenantID] = make(map[string]*contracts.Approval)
		}
		cp := *a
		d.Approvals[a.TenantID][a.ApprovalID] = &cp
	})
}

func (s *FileApprovalStore) GetApproval(_ context.Context, tenantID, approvalID string) (*contracts.Approval, error) {
	var out *contracts.Approval
	_ = s.file.withLock(false, func(d *approvalDoc) {
		if a, ok := d.Approvals[tenantID][approvalID]; ok {
			cp := *a
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileApprovalStore) ListPendingApprovals(_ context.Context, tenantID string) ([]*contracts.Approval, error) {
	var out []*contracts.Approval
	_ = s.file.withLock(false, func(d *approvalDoc) {
		for _, a := range d.Approvals[tenantID] {
			if a.Status == contracts.ApprovalStatusPending || a.Status == contracts.ApprovalStatusEscalated {
				cp := *a
				out = append(out, &cp)
			}
		}
	})
	return out, nil
}

// PutWorkflow configures tenantID's approval workflow template.
func (s *FileApprovalStore) PutWorkflow(_ context.Context, w *contracts.ApprovalWorkflow) error {
	return s.file.withLock(true, func(d *approvalDoc) {
		cp := *w
		d.Workflows[w.TenantID] = &cp
	})
}

func (s *FileApprovalStore) TenantWorkflow(_ context.Context, tenantID string) (*contracts.ApprovalWorkflow, error) {
	var out *contracts.ApprovalWorkflow
	_ = s.file.withLock(false, func(d *approvalDoc) {
		if w, ok := d.Workflows[tenantID]; ok {
			cp := *w
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}
