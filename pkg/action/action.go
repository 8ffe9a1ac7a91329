// Package action implements the Action Service (L14): the orchestrator
// that walks a submitted tool invocation through risk scoring, policy
// evaluation, approval, execution, and receipt emission. Grounded on
// core/pkg/executor/executor.go's SafeExecutor — "gate, then verify, then
// execute, then receipt" staged pipeline with fail-closed early returns at
// each gate — generalized from that file's effect/decision/intent
// vocabulary to this module's Action/PolicyEvaluation/Approval vocabulary.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/MokiMeow/OARS-sub000/pkg/metrics"
	"github.com/MokiMeow/OARS-sub000/pkg/risk"
	"github.com/google/uuid"
)

// Store persists Action records.
type Store interface {
	PutAction(ctx context.Context, action *contracts.Action) error
	GetAction(ctx context.Context, tenantID, actionID string) (*contracts.Action, error)
	ListActions(ctx context.Context, tenantID string) ([]*contracts.Action, error)
}

// PolicyEvaluator decides allow/deny/approve/quarantine for an Action.
// Satisfied by *pkg/policy.Service.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, action *contracts.Action, risk contracts.RiskSnapshot, policyIDOverride string) (*contracts.PolicyEvaluation, error)
}

// ApprovalCoordinator starts and resolves multi-stage approvals.
// Satisfied by *pkg/approval.Service.
type ApprovalCoordinator interface {
	StartApproval(ctx context.Context, tenantID, actionID, riskTier string) (*contracts.Approval, error)
	RecordDecision(ctx context.Context, tenantID string, input contracts.RecordDecisionInput) (*contracts.Approval, error)
}

// ReceiptEmitter mints the signed, chained receipt for one Action state
// transition. Satisfied by *pkg/receipt.Service.
type ReceiptEmitter interface {
	CreateReceipt(ctx context.Context, input contracts.CreateReceiptInput) (*contracts.Receipt, error)
}

// Executor runs the connector dispatch for an approved Action. Satisfied
// by *pkg/execservice.Service.
type Executor interface {
	Execute(ctx context.Context, action *contracts.Action) (contracts.ExecutionResult, error)
}

// JobEnqueuer hands an approved Action to the Execution Backplane instead
// of executing it inline. Satisfied by *pkg/backplane.Service. Nil means
// the Action Service executes every approved Action synchronously.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, input contracts.EnqueueJobInput) (*contracts.ExecutionJob, error)
}

// SecurityEventPublisher emits action.* lifecycle events. Kept narrow to
// avoid a dependency cycle on the full Security Event Service.
type SecurityEventPublisher interface {
	Publish(ctx context.Context, event contracts.SecurityEvent) error
}

// Service is the Action Service.
type Service struct {
	store     Store
	policySvc PolicyEvaluator
	approvals ApprovalCoordinator
	receipts  ReceiptEmitter
	executor  Executor
	backplane JobEnqueuer
	events    SecurityEventPublisher
	metrics   *metrics.Recorder
	clock     func() time.Time
}

// NewService wires the Action Service. backplane may be nil, in which case
// every approved Action executes inline within SubmitAction/
// HandleApprovalDecision's call. recorder may be nil, in which case
// terminal Action outcomes are not instrumented.
func NewService(store Store, policySvc PolicyEvaluator, approvals ApprovalCoordinator, receipts ReceiptEmitter, executor Executor, backplane JobEnqueuer, events SecurityEventPublisher, recorder *metrics.Recorder, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:     store,
		policySvc: policySvc,
		approvals: approvals,
		receipts:  receipts,
		executor:  executor,
		backplane: backplane,
		events:    events,
		metrics:   recorder,
		clock:     clock,
	}
}

// terminalActionStates are the Action states persistAndRespond records
// throughput/duration for — the pipeline's observable endpoints.
var terminalActionStates = map[contracts.ActionState]bool{
	contracts.ActionStateDenied:      true,
	contracts.ActionStateQuarantined: true,
	contracts.ActionStateExecuted:    true,
	contracts.ActionStateFailed:      true,
	contracts.ActionStateCanceled:    true,
}

func (s *Service) emitReceipt(ctx context.Context, action *contracts.Action, typ contracts.ReceiptType, requestID string) error {
	r, err := s.receipts.CreateReceipt(ctx, contracts.CreateReceiptInput{Action: action, Type: typ, RequestID: requestID})
	if err != nil {
		return fmt.Errorf("action: emit %s receipt: %w", typ, err)
	}
	action.ReceiptIDs = append(action.ReceiptIDs, r.ReceiptID)
	return nil
}

func (s *Service) publish(ctx context.Context, action *contracts.Action, category, severity string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, contracts.SecurityEvent{
		EventID:    "evt_" + uuid.NewString(),
		TenantID:   action.TenantID,
		Category:   category,
		Action:     string(action.State),
		Actor:      actorSubject(action.Actor),
		Severity:   severity,
		OccurredAt: s.clock(),
		Attributes: map[string]string{"actionId": action.ActionID},
	})
}

func actorSubject(a contracts.Actor) string {
	switch {
	case a.UserID != "":
		return a.UserID
	case a.AgentID != "":
		return a.AgentID
	case a.ServiceID != "":
		return a.ServiceID
	default:
		return ""
	}
}

// SubmitAction builds an Action from req, evaluates risk and policy, and
// drives it to a terminal or approval_required state per spec.md §4.11.
func (s *Service) SubmitAction(ctx context.Context, req contracts.SubmitActionRequest, requestID string) (*contracts.ActionResponse, error) {
	now := s.clock()
	action := &contracts.Action{
		ActionID: "act_" + uuid.NewString(),
		TenantID: req.TenantID,
		State:    contracts.ActionStateRequested,
		Actor: contracts.Actor{
			UserID:          req.UserID,
			AgentID:         req.AgentID,
			ServiceID:       req.ServiceID,
			DelegationChain: req.DelegationChain,
		},
		Resource: req.Resource,
		Input:    req.Input,
		Context: contracts.ActionContext{
			Environment: req.Environment,
			DataTypes:   req.DataTypes,
			RequestedAt: now,
		},
		RequestID:      requestID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	riskSnapshot := risk.Evaluate(req.Resource)
	action.Risk = riskSnapshot

	evaluation, err := s.policySvc.Evaluate(ctx, action, riskSnapshot, "")
	if err != nil {
		return nil, fmt.Errorf("action: policy evaluation: %w", err)
	}
	action.Policy = contracts.PolicySnapshot{
		SetID:     evaluation.PolicySetID,
		Version:   evaluation.PolicyVersion,
		Decision:  string(evaluation.Decision),
		RuleIDs:   evaluation.RuleIDs,
		Rationale: evaluation.Rationale,
	}

	if err := s.store.PutAction(ctx, action); err != nil {
		return nil, fmt.Errorf("action: persist requested: %w", err)
	}
	if err := s.emitReceipt(ctx, action, contracts.ReceiptRequested, requestID); err != nil {
		return nil, err
	}

	return s.applyDecision(ctx, action, evaluation.Decision, requestID)
}

// applyDecision maps a PolicyDecisionKind onto the next Action state and
// drives the corresponding side effects (receipt, approval, execution).
func (s *Service) applyDecision(ctx context.Context, action *contracts.Action, decision contracts.PolicyDecisionKind, requestID string) (*contracts.ActionResponse, error) {
	action.UpdatedAt = s.clock()

	switch decision {
	case contracts.DecisionDeny:
		action.State = contracts.ActionStateDenied
		if err := s.emitReceipt(ctx, action, contracts.ReceiptDenied, requestID); err != nil {
			return nil, err
		}
		s.publish(ctx, action, "policy", "high")
		return s.persistAndRespond(ctx, action, nil)

	case contracts.DecisionQuarantine:
		action.State = contracts.ActionStateQuarantined
		if err := s.emitReceipt(ctx, action, contracts.ReceiptQuarantined, requestID); err != nil {
			return nil, err
		}
		s.publish(ctx, action, "policy", "critical")
		return s.persistAndRespond(ctx, action, nil)

	case contracts.DecisionApprove:
		approval, err := s.approvals.StartApproval(ctx, action.TenantID, action.ActionID, action.Risk.Tier)
		if err != nil {
			return nil, fmt.Errorf("action: start approval: %w", err)
		}
		action.State = contracts.ActionStateApprovalRequired
		action.ApprovalID = approval.ApprovalID
		if err := s.emitReceipt(ctx, action, contracts.ReceiptApprovalRequired, requestID); err != nil {
			return nil, err
		}
		s.publish(ctx, action, "approval", "medium")
		progress := approvalProgress(approval)
		resp, err := s.persistAndRespond(ctx, action, &progress)
		if err != nil {
			return nil, err
		}
		resp.StepUpRequired = approval.RequiresStepUp
		return resp, nil

	default: // DecisionAllow
		action.State = contracts.ActionStateApproved
		if err := s.emitReceipt(ctx, action, contracts.ReceiptApproved, requestID); err != nil {
			return nil, err
		}
		if s.backplane != nil {
			if _, err := s.backplane.Enqueue(ctx, contracts.EnqueueJobInput{TenantID: action.TenantID, ActionID: action.ActionID, RequestID: requestID}); err != nil {
				return nil, fmt.Errorf("action: enqueue execution: %w", err)
			}
			return s.persistAndRespond(ctx, action, nil)
		}
		return s.executeAction(ctx, action, requestID)
	}
}

func approvalProgress(a *contracts.Approval) contracts.ApprovalProgress {
	name := ""
	if a.CurrentStageIndex < len(a.Stages) {
		name = a.Stages[a.CurrentStageIndex].Name
	}
	return contracts.ApprovalProgress{
		CurrentStageIndex: a.CurrentStageIndex,
		TotalStages:       len(a.Stages),
		CurrentStageName:  name,
	}
}

func (s *Service) persistAndRespond(ctx context.Context, action *contracts.Action, progress *contracts.ApprovalProgress) (*contracts.ActionResponse, error) {
	if err := s.store.PutAction(ctx, action); err != nil {
		return nil, fmt.Errorf("action: persist %s: %w", action.State, err)
	}
	if terminalActionStates[action.State] {
		s.metrics.RecordActionOutcome(ctx, action.TenantID, action.Resource.ToolID, string(action.State), s.clock().Sub(action.CreatedAt))
	}
	return &contracts.ActionResponse{Action: action, ReceiptIDs: action.ReceiptIDs, ApprovalProgress: progress}, nil
}

// executeAction calls the Execution Service and records the resulting
// executed/failed transition and receipt.
func (s *Service) executeAction(ctx context.Context, action *contracts.Action, requestID string) (*contracts.ActionResponse, error) {
	result, execErr := s.executor.Execute(ctx, action)
	action.UpdatedAt = s.clock()

	if execErr != nil || !result.Success {
		action.State = contracts.ActionStateFailed
		if execErr != nil {
			action.LastError = execErr.Error()
		} else {
			action.LastError = result.Error
		}
		if err := s.emitReceipt(ctx, action, contracts.ReceiptFailed, requestID); err != nil {
			return nil, err
		}
		s.publish(ctx, action, "execution", "high")
		return s.persistAndRespond(ctx, action, nil)
	}

	action.State = contracts.ActionStateExecuted
	if err := s.emitReceipt(ctx, action, contracts.ReceiptExecuted, requestID); err != nil {
		return nil, err
	}
	s.publish(ctx, action, "execution", "low")
	return s.persistAndRespond(ctx, action, nil)
}

// HandleApprovalDecision records one approver's decision and, once the
// overall Approval resolves, drives the Action to denied or to
// execution (inline or enqueued) per spec.md §4.11.
func (s *Service) HandleApprovalDecision(ctx context.Context, tenantID string, input contracts.RecordDecisionInput, requestID string) (*contracts.ActionResponse, error) {
	approval, err := s.approvals.RecordDecision(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}

	action, err := s.store.GetAction(ctx, tenantID, approval.ActionID)
	if err != nil {
		return nil, fmt.Errorf("action: load %s: %w", approval.ActionID, err)
	}

	switch approval.Status {
	case contracts.ApprovalStatusRejected:
		action.State = contracts.ActionStateDenied
		action.UpdatedAt = s.clock()
		if err := s.emitReceipt(ctx, action, contracts.ReceiptDenied, requestID); err != nil {
			return nil, err
		}
		s.publish(ctx, action, "approval", "high")
		return s.persistAndRespond(ctx, action, nil)

	case contracts.ApprovalStatusApproved:
		action.State = contracts.ActionStateApproved
		action.UpdatedAt = s.clock()
		if err := s.emitReceipt(ctx, action, contracts.ReceiptApproved, requestID); err != nil {
			return nil, err
		}
		if s.backplane != nil {
			if _, err := s.backplane.Enqueue(ctx, contracts.EnqueueJobInput{TenantID: action.TenantID, ActionID: action.ActionID, RequestID: requestID}); err != nil {
				return nil, fmt.Errorf("action: enqueue execution: %w", err)
			}
			return s.persistAndRespond(ctx, action, nil)
		}
		return s.executeAction(ctx, action, requestID)

	default: // still pending or escalated: no state change, just report progress
		progress := approvalProgress(approval)
		return &contracts.ActionResponse{Action: action, ReceiptIDs: action.ReceiptIDs, ApprovalProgress: &progress}, nil
	}
}

// ExecuteApprovedActionSync is the synchronous, inline-execute counterpart
// of spec.md §4.11's `executeApprovedAction(actionId, requestId)`: it is
// idempotent (an already-executed or already-failed Action is returned
// as-is rather than re-executed) and returns the full response a direct
// caller (not the backplane worker loop) needs.
func (s *Service) ExecuteApprovedActionSync(ctx context.Context, tenantID, actionID, requestID string) (*contracts.ActionResponse, error) {
	action, err := s.store.GetAction(ctx, tenantID, actionID)
	if err != nil {
		return nil, fmt.Errorf("action: load %s: %w", actionID, err)
	}

	switch action.State {
	case contracts.ActionStateExecuted, contracts.ActionStateFailed:
		return &contracts.ActionResponse{Action: action, ReceiptIDs: action.ReceiptIDs}, nil
	case contracts.ActionStateApproved:
		return s.executeAction(ctx, action, requestID)
	default:
		return nil, fmt.Errorf("%w: action %s is %s, not approved", errs.ErrInvalidInput, actionID, action.State)
	}
}

// ExecuteApprovedAction satisfies pkg/backplane.ActionExecutor: the worker
// loop has no requestId of its own (the job's own RequestID stands in for
// it), and only needs the resulting terminal state to decide complete vs.
// fail-and-retry.
func (s *Service) ExecuteApprovedAction(ctx context.Context, tenantID, actionID string) (contracts.ActionState, error) {
	action, err := s.store.GetAction(ctx, tenantID, actionID)
	if err != nil {
		return "", fmt.Errorf("action: load %s: %w", actionID, err)
	}
	resp, err := s.ExecuteApprovedActionSync(ctx, tenantID, actionID, action.RequestID)
	if err != nil {
		return "", err
	}
	return resp.Action.State, nil
}
