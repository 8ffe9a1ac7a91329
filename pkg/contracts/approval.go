package contracts

import "time"

// ApprovalStatus is the overall state of an Approval workflow.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
)

// StageMode controls how many distinct approvers a Stage needs.
type StageMode string

const (
	StageModeSerial   StageMode = "serial"
	StageModeParallel StageMode = "parallel"
)

// Stage is one step of a multi-stage approval workflow.
type Stage struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Mode              StageMode `json:"mode"`
	RequiredApprovals int       `json:"requiredApprovals"`
	ApproverIDs       []string  `json:"approverIds,omitempty"` // empty = any approver
	SLASeconds        *int      `json:"slaSeconds,omitempty"`
	EscalateTo        []string  `json:"escalateTo,omitempty"`
}

// DecisionKind is what an approver decided at a stage.
type DecisionKind string

const (
	ApproveDecision DecisionKind = "approve"
	RejectDecision  DecisionKind = "reject"
)

// Decision is one approver's recorded action on a stage.
type Decision struct {
	StageID    string       `json:"stageId"`
	ApproverID string       `json:"approverId"`
	Decision   DecisionKind `json:"decision"`
	Reason     string       `json:"reason,omitempty"`
	At         time.Time    `json:"at"`
}

// Approval is the in-flight (or resolved) approval workflow for one Action.
type Approval struct {
	ApprovalID        string         `json:"approvalId"`
	ActionID          string         `json:"actionId"`
	TenantID          string         `json:"tenantId"`
	Status            ApprovalStatus `json:"status"`
	Stages            []Stage        `json:"stages"`
	CurrentStageIndex int            `json:"currentStageIndex"`
	StageStartedAt    time.Time      `json:"stageStartedAt"`
	StageDeadlineAt   *time.Time     `json:"stageDeadlineAt,omitempty"`
	EscalatedStageIDs []string       `json:"escalatedStageIds,omitempty"`
	RequiresStepUp    bool           `json:"requiresStepUp"`
	Decisions         []Decision     `json:"decisions"`
}

// ApprovalProgress is a compact view of where an Approval stands.
type ApprovalProgress struct {
	CurrentStageIndex int    `json:"currentStageIndex"`
	TotalStages       int    `json:"totalStages"`
	CurrentStageName  string `json:"currentStageName"`
}

// RecordDecisionInput is the input to ApprovalService.RecordDecision.
type RecordDecisionInput struct {
	ApprovalID string
	Decision   DecisionKind
	ApproverID string
	Reason     string
	StepUpCode string
}

// ApprovalWorkflow is a tenant-configured template for new Approvals.
type ApprovalWorkflow struct {
	TenantID string  `json:"tenantId"`
	Stages   []Stage `json:"stages"`
}
