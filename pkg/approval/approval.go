// Package approval implements the Approval Service (spec L10): a
// multi-stage workflow state machine with step-up authentication and
// SLA-driven escalation. Grounded on core/pkg/escalation/manager.go's
// shape (mutex-guarded intent map, clock-injected timeouts, an
// escalation scan that produces receipts for expired work), generalized
// from a single quorum-based escalation intent into the spec's ordered
// multi-stage serial/parallel workflow with a distinct-approver-per-stage
// requirement.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/MokiMeow/OARS-sub000/pkg/metrics"
	"github.com/google/uuid"
)

// devStepUpCode is the pluggable development step-up code; a production
// deployment wires a real step-up verifier (TOTP, WebAuthn, push) behind
// the same StepUpVerifier interface.
const devStepUpCode = "stepup_dev_code"

// StepUpVerifier validates a step-up authentication code for a subject.
// The default DevStepUpVerifier accepts only the fixed dev code.
type StepUpVerifier interface {
	Verify(ctx context.Context, approverID, code string) bool
}

// DevStepUpVerifier accepts only devStepUpCode, for local/dev use.
type DevStepUpVerifier struct{}

func (DevStepUpVerifier) Verify(_ context.Context, _ string, code string) bool {
	return code == devStepUpCode
}

// Store persists Approval records.
type Store interface {
	PutApproval(ctx context.Context, approval *contracts.Approval) error
	GetApproval(ctx context.Context, tenantID, approvalID string) (*contracts.Approval, error)
	ListPendingApprovals(ctx context.Context, tenantID string) ([]*contracts.Approval, error)
}

// WorkflowStore resolves a tenant's configured approval workflow
// template, if any.
type WorkflowStore interface {
	TenantWorkflow(ctx context.Context, tenantID string) (*contracts.ApprovalWorkflow, error)
}

// SecurityEventPublisher emits admin-facing events (escalations, high
// risk executions) without the approval package depending on the full
// Security Event Service.
type SecurityEventPublisher interface {
	Publish(ctx context.Context, event contracts.SecurityEvent) error
}

// Service is the Approval Service.
type Service struct {
	store     Store
	workflows WorkflowStore
	stepUp    StepUpVerifier
	events    SecurityEventPublisher
	metrics   *metrics.Recorder
	clock     func() time.Time
}

// NewService constructs an Approval Service. workflows, events, and
// recorder may all be nil; a nil WorkflowStore always yields the default
// single-stage workflow, a nil publisher silently drops escalation
// events, and a nil recorder means escalations go uninstrumented.
func NewService(store Store, workflows WorkflowStore, stepUp StepUpVerifier, events SecurityEventPublisher, recorder *metrics.Recorder, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if stepUp == nil {
		stepUp = DevStepUpVerifier{}
	}
	return &Service{store: store, workflows: workflows, stepUp: stepUp, events: events, metrics: recorder, clock: clock}
}

// defaultStages is used when a tenant has no configured workflow: a
// single serial stage requiring one approval from anyone.
func defaultStages() []contracts.Stage {
	return []contracts.Stage{
		{ID: "stage_default", Name: "Default Approval", Mode: contracts.StageModeSerial, RequiredApprovals: 1},
	}
}

// StartApproval creates a pending Approval for an action that a policy
// evaluation routed to approval_required.
func (s *Service) StartApproval(ctx context.Context, tenantID, actionID string, riskTier string) (*contracts.Approval, error) {
	stages := defaultStages()
	if s.workflows != nil {
		if wf, err := s.workflows.TenantWorkflow(ctx, tenantID); err == nil && wf != nil && len(wf.Stages) > 0 {
			stages = wf.Stages
		}
	}

	now := s.clock()
	approval := &contracts.Approval{
		ApprovalID:        "appr_" + uuid.NewString(),
		ActionID:          actionID,
		TenantID:          tenantID,
		Status:            contracts.ApprovalStatusPending,
		Stages:            stages,
		CurrentStageIndex: 0,
		StageStartedAt:    now,
		RequiresStepUp:    riskTier == contracts.RiskTierCritical,
	}
	approval.StageDeadlineAt = deadlineFor(stages[0], now)

	if err := s.store.PutApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("approval: persist: %w", err)
	}
	return approval, nil
}

func deadlineFor(stage contracts.Stage, start time.Time) *time.Time {
	if stage.SLASeconds == nil {
		return nil
	}
	d := start.Add(time.Duration(*stage.SLASeconds) * time.Second)
	return &d
}

// RecordDecision applies one approver's decision to the current stage.
func (s *Service) RecordDecision(ctx context.Context, tenantID string, input contracts.RecordDecisionInput) (*contracts.Approval, error) {
	approval, err := s.store.GetApproval(ctx, tenantID, input.ApprovalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != contracts.ApprovalStatusPending {
		return nil, fmt.Errorf("%w: approval %s is %s, not pending", errs.ErrInvalidInput, approval.ApprovalID, approval.Status)
	}
	if approval.RequiresStepUp && !s.stepUp.Verify(ctx, input.ApproverID, input.StepUpCode) {
		return nil, errs.ErrStepUpRequired
	}

	stage := approval.Stages[approval.CurrentStageIndex]
	if len(stage.ApproverIDs) > 0 && !containsStr(stage.ApproverIDs, input.ApproverID) {
		return nil, fmt.Errorf("%w: %s is not an authorized approver for stage %s", errs.ErrForbidden, input.ApproverID, stage.ID)
	}

	now := s.clock()
	decision := contracts.Decision{
		StageID:    stage.ID,
		ApproverID: input.ApproverID,
		Decision:   input.Decision,
		Reason:     input.Reason,
		At:         now,
	}
	approval.Decisions = append(approval.Decisions, decision)

	if input.Decision == contracts.RejectDecision {
		approval.Status = contracts.ApprovalStatusRejected
		if err := s.store.PutApproval(ctx, approval); err != nil {
			return nil, err
		}
		return approval, nil
	}

	distinctApprovers := map[string]bool{}
	for _, d := range approval.Decisions {
		if d.StageID == stage.ID && d.Decision == contracts.ApproveDecision {
			distinctApprovers[d.ApproverID] = true
		}
	}

	if len(distinctApprovers) >= stage.RequiredApprovals {
		if approval.CurrentStageIndex == len(approval.Stages)-1 {
			approval.Status = contracts.ApprovalStatusApproved
		} else {
			approval.CurrentStageIndex++
			approval.StageStartedAt = now
			next := approval.Stages[approval.CurrentStageIndex]
			approval.StageDeadlineAt = deadlineFor(next, now)
		}
	}

	if err := s.store.PutApproval(ctx, approval); err != nil {
		return nil, err
	}
	return approval, nil
}

func containsStr(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// Progress returns a compact view of an Approval's position for API
// responses.
func Progress(approval *contracts.Approval) contracts.ApprovalProgress {
	name := ""
	if approval.CurrentStageIndex < len(approval.Stages) {
		name = approval.Stages[approval.CurrentStageIndex].Name
	}
	return contracts.ApprovalProgress{
		CurrentStageIndex: approval.CurrentStageIndex,
		TotalStages:       len(approval.Stages),
		CurrentStageName:  name,
	}
}

// ScanForEscalations records every pending approval whose current stage
// has passed its deadline in EscalatedStageIDs (idempotent: a stage
// already listed there is skipped) and publishes one SecurityEvent per
// newly escalated stage, listing the stage's EscalateTo subjects. The
// approval's Status stays pending — escalation widens who can act on the
// stage, via EscalateTo, it does not take the stage out of play, so a
// later RecordDecision from one of those escalated approvers must still
// succeed.
func (s *Service) ScanForEscalations(ctx context.Context, tenantID string, now time.Time) (int, error) {
	pending, err := s.store.ListPendingApprovals(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, approval := range pending {
		if approval.CurrentStageIndex >= len(approval.Stages) {
			continue
		}
		stage := approval.Stages[approval.CurrentStageIndex]
		if approval.StageDeadlineAt == nil || now.Before(*approval.StageDeadlineAt) {
			continue
		}
		if containsStr(approval.EscalatedStageIDs, stage.ID) {
			continue
		}

		approval.EscalatedStageIDs = append(approval.EscalatedStageIDs, stage.ID)
		if err := s.store.PutApproval(ctx, approval); err != nil {
			return escalated, err
		}
		s.metrics.RecordApprovalEscalation(ctx, tenantID, stage.ID)

		if s.events != nil {
			_ = s.events.Publish(ctx, contracts.SecurityEvent{
				EventID:    "sec_" + uuid.NewString(),
				TenantID:   tenantID,
				Category:   "approval_escalation",
				Action:     "escalate",
				Severity:   "high",
				OccurredAt: now,
				Attributes: map[string]string{
					"approvalId": approval.ApprovalID,
					"stageId":    stage.ID,
					"escalateTo": fmt.Sprintf("%v", stage.EscalateTo),
				},
			})
		}
		escalated++
	}
	return escalated, nil
}
