package action

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

type memActionStore struct {
	mu      sync.Mutex
	actions map[string]map[string]*contracts.Action
}

func newMemActionStore() *memActionStore {
	return &memActionStore{actions: make(map[string]map[string]*contracts.Action)}
}

func (m *memActionStore) PutAction(_ context.Context, a *contracts.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actions[a.TenantID] == nil {
		m.actions[a.TenantID] = make(map[string]*contracts.Action)
	}
	cp := *a
	m.actions[a.TenantID][a.ActionID] = &cp
	return nil
}

func (m *memActionStore) GetAction(_ context.Context, tenantID, actionID string) (*contracts.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[tenantID][actionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memActionStore) ListActions(_ context.Context, tenantID string) ([]*contracts.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Action
	for _, a := range m.actions[tenantID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

type stubPolicy struct {
	evaluation *contracts.PolicyEvaluation
	err        error
}

func (p *stubPolicy) Evaluate(_ context.Context, _ *contracts.Action, _ contracts.RiskSnapshot, _ string) (*contracts.PolicyEvaluation, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.evaluation, nil
}

type stubApprovals struct {
	started  *contracts.Approval
	decision *contracts.Approval
}

func (a *stubApprovals) StartApproval(_ context.Context, _, actionID, _ string) (*contracts.Approval, error) {
	cp := *a.started
	cp.ActionID = actionID
	return &cp, nil
}

func (a *stubApprovals) RecordDecision(_ context.Context, _ string, _ contracts.RecordDecisionInput) (*contracts.Approval, error) {
	return a.decision, nil
}

type recordingReceipts struct {
	mu    sync.Mutex
	types []contracts.ReceiptType
}

func (r *recordingReceipts) CreateReceipt(_ context.Context, input contracts.CreateReceiptInput) (*contracts.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, input.Type)
	return &contracts.Receipt{ReceiptID: "rcpt_" + string(input.Type)}, nil
}

type stubExecutor struct {
	result contracts.ExecutionResult
	err    error
}

func (e *stubExecutor) Execute(_ context.Context, _ *contracts.Action) (contracts.ExecutionResult, error) {
	return e.result, e.err
}

type stubBackplane struct {
	enqueued []contracts.EnqueueJobInput
}

func (b *stubBackplane) Enqueue(_ context.Context, input contracts.EnqueueJobInput) (*contracts.ExecutionJob, error) {
	b.enqueued = append(b.enqueued, input)
	return &contracts.ExecutionJob{ActionID: input.ActionID, TenantID: input.TenantID}, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []contracts.SecurityEvent
}

func (e *recordingEvents) Publish(_ context.Context, ev contracts.SecurityEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func baseRequest() contracts.SubmitActionRequest {
	return contracts.SubmitActionRequest{
		TenantID: "tenant-a",
		UserID:   "user-1",
		Resource: contracts.Resource{ToolID: "crm", Operation: "read", Target: "contacts"},
	}
}

func TestSubmitAction_Allow_ExecutesInline(t *testing.T) {
	store := newMemActionStore()
	policySvc := &stubPolicy{evaluation: &contracts.PolicyEvaluation{Decision: contracts.DecisionAllow}}
	receipts := &recordingReceipts{}
	executor := &stubExecutor{result: contracts.ExecutionResult{Success: true}}
	events := &recordingEvents{}

	svc := NewService(store, policySvc, &stubApprovals{}, receipts, executor, nil, events, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.SubmitAction(context.Background(), baseRequest(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateExecuted, resp.Action.State)
	assert.Equal(t, []contracts.ReceiptType{contracts.ReceiptRequested, contracts.ReceiptApproved, contracts.ReceiptExecuted}, receipts.types)

	loaded, err := store.GetAction(context.Background(), "tenant-a", resp.Action.ActionID)
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateExecuted, loaded.State)
}

func TestSubmitAction_Allow_EnqueuesWhenBackplaneSet(t *testing.T) {
	store := newMemActionStore()
	policySvc := &stubPolicy{evaluation: &contracts.PolicyEvaluation{Decision: contracts.DecisionAllow}}
	backplane := &stubBackplane{}

	svc := NewService(store, policySvc, &stubApprovals{}, &recordingReceipts{}, nil, backplane, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.SubmitAction(context.Background(), baseRequest(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateApproved, resp.Action.State)
	require.Len(t, backplane.enqueued, 1)
	assert.Equal(t, resp.Action.ActionID, backplane.enqueued[0].ActionID)
}

func TestSubmitAction_Deny(t *testing.T) {
	store := newMemActionStore()
	policySvc := &stubPolicy{evaluation: &contracts.PolicyEvaluation{Decision: contracts.DecisionDeny, Rationale: "blocked by rule"}}
	receipts := &recordingReceipts{}

	svc := NewService(store, policySvc, &stubApprovals{}, receipts, nil, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.SubmitAction(context.Background(), baseRequest(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateDenied, resp.Action.State)
	assert.Equal(t, []contracts.ReceiptType{contracts.ReceiptRequested, contracts.ReceiptDenied}, receipts.types)
}

func TestSubmitAction_Quarantine(t *testing.T) {
	store := newMemActionStore()
	policySvc := &stubPolicy{evaluation: &contracts.PolicyEvaluation{Decision: contracts.DecisionQuarantine}}

	svc := NewService(store, policySvc, &stubApprovals{}, &recordingReceipts{}, nil, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.SubmitAction(context.Background(), baseRequest(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateQuarantined, resp.Action.State)
}

func TestSubmitAction_ApprovalRequired_SetsStepUpAndProgress(t *testing.T) {
	store := newMemActionStore()
	policySvc := &stubPolicy{evaluation: &contracts.PolicyEvaluation{Decision: contracts.DecisionApprove}}
	approvals := &stubApprovals{started: &contracts.Approval{
		ApprovalID:        "appr-1",
		Status:            contracts.ApprovalStatusPending,
		Stages:            []contracts.Stage{{Name: "manager"}, {Name: "security"}},
		CurrentStageIndex: 0,
		RequiresStepUp:    true,
	}}

	svc := NewService(store, policySvc, approvals, &recordingReceipts{}, nil, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.SubmitAction(context.Background(), baseRequest(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateApprovalRequired, resp.Action.State)
	assert.True(t, resp.StepUpRequired)
	require.NotNil(t, resp.ApprovalProgress)
	assert.Equal(t, 2, resp.ApprovalProgress.TotalStages)
	assert.Equal(t, "manager", resp.ApprovalProgress.CurrentStageName)
	assert.Equal(t, "appr-1", resp.Action.ApprovalID)
}

func TestHandleApprovalDecision_Approved_ExecutesInline(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateApprovalRequired}
	require.NoError(t, store.PutAction(context.Background(), action))

	approvals := &stubApprovals{decision: &contracts.Approval{ActionID: "act-1", Status: contracts.ApprovalStatusApproved}}
	executor := &stubExecutor{result: contracts.ExecutionResult{Success: true}}

	svc := NewService(store, &stubPolicy{}, approvals, &recordingReceipts{}, executor, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.HandleApprovalDecision(context.Background(), "tenant-a", contracts.RecordDecisionInput{}, "req-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateExecuted, resp.Action.State)
}

func TestHandleApprovalDecision_Rejected(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateApprovalRequired}
	require.NoError(t, store.PutAction(context.Background(), action))

	approvals := &stubApprovals{decision: &contracts.Approval{ActionID: "act-1", Status: contracts.ApprovalStatusRejected}}

	svc := NewService(store, &stubPolicy{}, approvals, &recordingReceipts{}, nil, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.HandleApprovalDecision(context.Background(), "tenant-a", contracts.RecordDecisionInput{}, "req-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateDenied, resp.Action.State)
}

func TestHandleApprovalDecision_StillPending_NoStateChange(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateApprovalRequired}
	require.NoError(t, store.PutAction(context.Background(), action))

	approvals := &stubApprovals{decision: &contracts.Approval{
		ActionID:          "act-1",
		Status:            contracts.ApprovalStatusPending,
		Stages:            []contracts.Stage{{Name: "manager"}},
		CurrentStageIndex: 0,
	}}

	svc := NewService(store, &stubPolicy{}, approvals, &recordingReceipts{}, nil, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.HandleApprovalDecision(context.Background(), "tenant-a", contracts.RecordDecisionInput{}, "req-2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateApprovalRequired, resp.Action.State)
	require.NotNil(t, resp.ApprovalProgress)
}

func TestExecuteApprovedActionSync_Idempotent(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateExecuted, ReceiptIDs: []string{"rcpt_executed"}}
	require.NoError(t, store.PutAction(context.Background(), action))

	executor := &stubExecutor{result: contracts.ExecutionResult{Success: true}}
	svc := NewService(store, &stubPolicy{}, &stubApprovals{}, &recordingReceipts{}, executor, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	resp, err := svc.ExecuteApprovedActionSync(context.Background(), "tenant-a", "act-1", "req-3")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateExecuted, resp.Action.State)
	assert.Equal(t, []string{"rcpt_executed"}, resp.ReceiptIDs)
}

func TestExecuteApprovedActionSync_RejectsWrongState(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateRequested}
	require.NoError(t, store.PutAction(context.Background(), action))

	svc := NewService(store, &stubPolicy{}, &stubApprovals{}, &recordingReceipts{}, &stubExecutor{}, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	_, err := svc.ExecuteApprovedActionSync(context.Background(), "tenant-a", "act-1", "req-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestExecuteApprovedAction_MatchesBackplaneExecutorSignature(t *testing.T) {
	store := newMemActionStore()
	action := &contracts.Action{ActionID: "act-1", TenantID: "tenant-a", State: contracts.ActionStateApproved, RequestID: "original-req"}
	require.NoError(t, store.PutAction(context.Background(), action))

	executor := &stubExecutor{result: contracts.ExecutionResult{Success: false, Error: "connector timeout"}}
	svc := NewService(store, &stubPolicy{}, &stubApprovals{}, &recordingReceipts{}, executor, nil, nil, nil, fixedClock(time.Unix(0, 0)))

	state, err := svc.ExecuteApprovedAction(context.Background(), "tenant-a", "act-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionStateFailed, state)

	loaded, err := store.GetAction(context.Background(), "tenant-a", "act-1")
	require.NoError(t, err)
	assert.Equal(t, "connector timeout", loaded.LastError)
}
