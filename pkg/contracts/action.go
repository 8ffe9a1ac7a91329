// Package contracts holds the shared domain types that flow through every
// OARS service boundary. Types here are plain data — no behavior — so that
// stores, services, and the (out-of-scope) transport layer can all depend
// on them without creating import cycles.
package contracts

import "time"

// ActionState is the lifecycle state of an Action.
type ActionState string

const (
	ActionStateRequested        ActionState = "requested"
	ActionStateDenied           ActionState = "denied"
	ActionStateApprovalRequired ActionState = "approval_required"
	ActionStateApproved         ActionState = "approved"
	ActionStateExecuted         ActionState = "executed"
	ActionStateFailed           ActionState = "failed"
	ActionStateQuarantined      ActionState = "quarantined"
	ActionStateCanceled         ActionState = "canceled"
)

// Actor identifies who or what is proposing the action.
type Actor struct {
	UserID          string   `json:"userId,omitempty"`
	AgentID         string   `json:"agentId,omitempty"`
	ServiceID       string   `json:"serviceId,omitempty"`
	DelegationChain []string `json:"delegationChain,omitempty"`
}

// Resource describes the tool invocation being requested.
type Resource struct {
	ToolID    string `json:"toolId"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
}

// ActionContext carries environment and classification metadata used by
// policy evaluation.
type ActionContext struct {
	Environment string    `json:"environment,omitempty"`
	DataTypes   []string  `json:"dataTypes,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PolicySnapshot is the outcome of a policy evaluation, frozen onto the
// Action and every receipt it produces.
type PolicySnapshot struct {
	SetID     string   `json:"policySetId,omitempty"`
	Version   int      `json:"policyVersion,omitempty"`
	Decision  string   `json:"decision"`
	RuleIDs   []string `json:"ruleIds,omitempty"`
	Rationale string   `json:"rationale"`
}

// RiskSnapshot is the outcome of risk scoring, frozen onto the Action and
// every receipt it produces.
type RiskSnapshot struct {
	Score   int      `json:"score"`
	Tier    string   `json:"tier"`
	Signals []string `json:"signals,omitempty"`
}

// Action is the central domain record: a proposed tool invocation and its
// entire lifecycle history.
type Action struct {
	ActionID       string         `json:"actionId"`
	TenantID       string         `json:"tenantId"`
	State          ActionState    `json:"state"`
	Actor          Actor          `json:"actor"`
	Resource       Resource       `json:"resource"`
	Input          map[string]any `json:"input,omitempty"`
	Context        ActionContext  `json:"context"`
	Policy         PolicySnapshot `json:"policyDecision"`
	Risk           RiskSnapshot   `json:"risk"`
	ApprovalID     string         `json:"approvalId,omitempty"`
	ReceiptIDs     []string       `json:"receiptIds"`
	LastError      string         `json:"lastError,omitempty"`
	RequestID      string         `json:"requestId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// SubmitActionRequest is the input to ActionService.SubmitAction.
type SubmitActionRequest struct {
	TenantID        string
	UserID          string
	AgentID         string
	ServiceID       string
	DelegationChain []string
	Resource        Resource
	Input           map[string]any
	Environment     string
	DataTypes       []string
	IdempotencyKey  string
}

// ActionResponse is the synchronous reply to submit/decision operations.
type ActionResponse struct {
	Action           *Action           `json:"action"`
	ReceiptIDs       []string          `json:"receiptIds"`
	StepUpRequired   bool              `json:"stepUpRequired,omitempty"`
	ApprovalProgress *ApprovalProgress `json:"approvalProgress,omitempty"`
}
