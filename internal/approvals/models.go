package approvals

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowType string

const (
	TypeTenderApproval          WorkflowType = "TENDER_APPROVAL"
	TypeContractApproval        WorkflowType = "CONTRACT_APPROVAL"
	TypeAssignmentOrderApproval WorkflowType = "ASSIGNMENT_ORDER_APPROVAL"
	TypeSupportMatterApproval   WorkflowType = "SUPPORT_MATTER_APPROVAL"
	TypeGuaranteeLetterApproval WorkflowType = "GUARANTEE_LETTER_APPROVAL"
	TypeGeneralApproval         WorkflowType = "GENERAL_APPROVAL"
)

type ApproverRole string

const (
	RoleDepartmentHead                    ApproverRole = "DEPARTMENT_HEAD"
	RoleBranchContractsManager            ApproverRole = "BRANCH_CONTRACTS_MANAGER"
	RoleUnifiedProcurementManager         ApproverRole = "UNIFIED_PROCUREMENT_MANAGER"
	RoleAssistantUnifiedProcurementManager ApproverRole = "ASSISTANT_UNIFIED_PROCUREMENT_MANAGER"
	RoleLegalAffairs                      ApproverRole = "LEGAL_AFFAIRS"
	RoleFinancialManager                  ApproverRole = "FINANCIAL_MANAGER"
	RoleGeneralManager                    ApproverRole = "GENERAL_MANAGER"
	RoleEmployee                          ApproverRole = "EMPLOYEE"
)

type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusApproved   RequestStatus = "APPROVED"
	StatusRejected   RequestStatus = "REJECTED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusExpired    RequestStatus = "EXPIRED"
)

// IsTerminal reports whether the status freezes the request. Returned and
// delegated are recorded on ApprovalRequest.LastAction, not as statuses,
// so a request is either waiting to start, actionable, or done.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type ActionType string

const (
	ActionApprove     ActionType = "APPROVE"
	ActionReject      ActionType = "REJECT"
	ActionReturn      ActionType = "RETURN"
	ActionDelegate    ActionType = "DELEGATE"
	ActionCancel      ActionType = "CANCEL"
	ActionComment     ActionType = "COMMENT"
	ActionRequestInfo ActionType = "REQUEST_INFO"

	// Engine-recorded entries. Never accepted from callers; the engine
	// appends them so the ledger stays a total record of every
	// transition.
	ActionSkip     ActionType = "SKIP"
	ActionComplete ActionType = "COMPLETE"
	ActionExpire   ActionType = "EXPIRE"
)

// ApprovalWorkflow is a named definition of an ordered approval chain.
// Steps are exclusively owned and their StepOrder values form a dense
// 1..N sequence.
type ApprovalWorkflow struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Description  string       `json:"description" db:"description"`
	WorkflowType WorkflowType `json:"workflow_type" db:"workflow_type"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	Priority     int          `json:"priority" db:"priority"`
	Steps        []ApprovalStep `json:"steps" db:"-"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// StepAt returns the step with the given order, or nil.
func (w *ApprovalWorkflow) StepAt(order int) *ApprovalStep {
	for i := range w.Steps {
		if w.Steps[i].StepOrder == order {
			return &w.Steps[i]
		}
	}
	return nil
}

// LastStepOrder returns the highest step order, 0 for an empty workflow.
func (w *ApprovalWorkflow) LastStepOrder() int {
	last := 0
	for i := range w.Steps {
		if w.Steps[i].StepOrder > last {
			last = w.Steps[i].StepOrder
		}
	}
	return last
}

type ApprovalStep struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	WorkflowID     uuid.UUID    `json:"workflow_id" db:"workflow_id"`
	StepOrder      int          `json:"step_order" db:"step_order"`
	StepName       string       `json:"step_name" db:"step_name"`
	Description    string       `json:"description" db:"description"`
	RequiredRole   ApproverRole `json:"required_role" db:"required_role"`
	RequiredUserID *uuid.UUID   `json:"required_user_id,omitempty" db:"required_user_id"`
	IsRequired     bool         `json:"is_required" db:"is_required"`
	TimeLimitDays  int          `json:"time_limit_days" db:"time_limit_days"`
	CanDelegate    bool         `json:"can_delegate" db:"can_delegate"`
	CanReject      bool         `json:"can_reject" db:"can_reject"`
	CanReturn      bool         `json:"can_return" db:"can_return"`
}

// AllowsAction reports whether the step's flags permit the action type.
// Approve, cancel, comment and request-info are always permitted.
func (s *ApprovalStep) AllowsAction(action ActionType) bool {
	switch action {
	case ActionReject:
		return s.CanReject
	case ActionReturn:
		return s.CanReturn
	case ActionDelegate:
		return s.CanDelegate
	}
	return true
}

// ApprovalRequest is one run of a workflow against a business entity.
// Status and CurrentStepOrder are a projection of the request's actions;
// Version guards concurrent transitions (see Repository.ApplyTransition).
type ApprovalRequest struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	WorkflowID         uuid.UUID     `json:"workflow_id" db:"workflow_id"`
	EntityID           string        `json:"entity_id" db:"entity_id"`
	EntityType         string        `json:"entity_type" db:"entity_type"`
	RequestTitle       string        `json:"request_title" db:"request_title"`
	RequestDescription string        `json:"request_description" db:"request_description"`
	Status             RequestStatus `json:"status" db:"status"`
	LastAction         *ActionType   `json:"last_action,omitempty" db:"last_action"`
	CurrentStepOrder   int           `json:"current_step_order" db:"current_step_order"`
	CurrentApproverID  *uuid.UUID    `json:"current_approver_id,omitempty" db:"current_approver_id"`
	CurrentStepDueDate *time.Time    `json:"current_step_due_date,omitempty" db:"current_step_due_date"`
	RequestedBy        uuid.UUID     `json:"requested_by" db:"requested_by"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CompletedBy        *uuid.UUID    `json:"completed_by,omitempty" db:"completed_by"`
	RejectionReason    string        `json:"rejection_reason" db:"rejection_reason"`
	CompletionNotes    string        `json:"completion_notes" db:"completion_notes"`
	Version            int64         `json:"version" db:"version"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// IsOverdue reports whether the current step's due date has elapsed.
func (r *ApprovalRequest) IsOverdue(now time.Time) bool {
	return r.Status == StatusInProgress &&
		r.CurrentStepDueDate != nil &&
		r.CurrentStepDueDate.Before(now)
}

// ApprovalAction is an immutable audit record. Rows are appended exactly
// once per approver action and never updated or deleted.
type ApprovalAction struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	RequestID         uuid.UUID  `json:"request_id" db:"request_id"`
	StepID            *uuid.UUID `json:"step_id,omitempty" db:"step_id"`
	StepOrder         int        `json:"step_order" db:"step_order"`
	ApproverID        uuid.UUID  `json:"approver_id" db:"approver_id"`
	ActionType        ActionType `json:"action_type" db:"action_type"`
	Comments          string     `json:"comments" db:"comments"`
	ActionDate        time.Time  `json:"action_date" db:"action_date"`
	DelegatedToUserID *uuid.UUID `json:"delegated_to_user_id,omitempty" db:"delegated_to_user_id"`
	DelegationReason  string     `json:"delegation_reason" db:"delegation_reason"`
}

// CreateWorkflowRequest is the inbound payload for workflow definitions.
type CreateWorkflowRequest struct {
	Name         string              `json:"name" binding:"required"`
	Description  string              `json:"description"`
	WorkflowType WorkflowType        `json:"workflow_type" binding:"required"`
	Priority     int                 `json:"priority"`
	Steps        []CreateStepRequest `json:"steps"`
}

type CreateStepRequest struct {
	StepOrder      int          `json:"step_order" binding:"required"`
	StepName       string       `json:"step_name" binding:"required"`
	Description    string       `json:"description"`
	RequiredRole   ApproverRole `json:"required_role" binding:"required"`
	RequiredUserID *uuid.UUID   `json:"required_user_id,omitempty"`
	IsRequired     *bool        `json:"is_required,omitempty"`
	TimeLimitDays  int          `json:"time_limit_days"`
	CanDelegate    bool         `json:"can_delegate"`
	CanReject      bool         `json:"can_reject"`
	CanReturn      bool         `json:"can_return"`
}

type CreateRequestInput struct {
	WorkflowID         uuid.UUID `json:"workflow_id" binding:"required"`
	EntityID           string    `json:"entity_id" binding:"required"`
	EntityType         string    `json:"entity_type" binding:"required"`
	RequestTitle       string    `json:"request_title" binding:"required"`
	RequestDescription string    `json:"request_description"`
}

// ActionInput is the single inbound shape for all approver activity.
// ApproverID is filled from the authenticated actor, never from the body.
type ActionInput struct {
	ActionType        ActionType `json:"action_type" binding:"required"`
	Comments          string     `json:"comments"`
	DelegatedToUserID *uuid.UUID `json:"delegated_to_user_id,omitempty"`
	DelegationReason  string     `json:"delegation_reason"`
}

// Statistics is the read-side rollup computed on demand from requests
// and the action ledger.
type Statistics struct {
	TotalRequests        int                      `json:"total_requests"`
	ByStatus             map[RequestStatus]int    `json:"by_status"`
	ByWorkflowType       map[WorkflowType]int     `json:"by_workflow_type"`
	ApproverThroughput   []ApproverStats          `json:"approver_throughput"`
	OverdueCount         int                      `json:"overdue_count"`
	AvgCompletionSeconds float64                  `json:"avg_completion_seconds"`
	ComputedAt           time.Time                `json:"computed_at"`
}

type ApproverStats struct {
	ApproverID uuid.UUID `json:"approver_id"`
	Pending    int       `json:"pending"`
	Approved   int       `json:"approved"`
	Rejected   int       `json:"rejected"`
	Returned   int       `json:"returned"`
	Delegated  int       `json:"delegated"`
}
