package approvals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RequestFilter narrows request queries. Zero-value fields are ignored.
type RequestFilter struct {
	Status     *RequestStatus
	WorkflowID *uuid.UUID
	EntityType string
	EntityID   string
	ApproverID *uuid.UUID
	OverdueAt  *time.Time
}

type Repository interface {
	CreateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*ApprovalWorkflow, error)
	ListWorkflows(ctx context.Context, activeOnly bool) ([]ApprovalWorkflow, error)
	UpdateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error
	ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []ApprovalStep) error

	// CountActiveRequestsFromStep counts non-terminal requests whose
	// current step order is at or beyond minStepOrder. Removing a step
	// renumbers everything after it, so requests sitting anywhere from
	// that order on would be stranded.
	CountActiveRequestsFromStep(ctx context.Context, workflowID uuid.UUID, minStepOrder int) (int, error)

	CreateRequest(ctx context.Context, req *ApprovalRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error)

	// ApplyTransition persists the request mutation and appends the
	// given ledger entries in the same transaction. The update is
	// guarded by req.Version; a stale version fails with
	// ErrConcurrentModification and leaves both stores untouched.
	ApplyTransition(ctx context.Context, req *ApprovalRequest, actions ...*ApprovalAction) error

	ListActionsByRequest(ctx context.Context, requestID uuid.UUID) ([]ApprovalAction, error)
	ListActionsByApprover(ctx context.Context, approverID uuid.UUID) ([]ApprovalAction, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO approval_workflows (
			id, name, description, workflow_type, is_active, priority, created_at, updated_at
		) VALUES (
			:id, :name, :description, :workflow_type, :is_active, :priority, :created_at, :updated_at
		)`
	if _, err := tx.NamedExecContext(ctx, query, wf); err != nil {
		return err
	}
	for i := range wf.Steps {
		if err := insertStep(ctx, tx, &wf.Steps[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertStep(ctx context.Context, tx *sqlx.Tx, step *ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			id, workflow_id, step_order, step_name, description, required_role,
			required_user_id, is_required, time_limit_days, can_delegate, can_reject, can_return
		) VALUES (
			:id, :workflow_id, :step_order, :step_name, :description, :required_role,
			:required_user_id, :is_required, :time_limit_days, :can_delegate, :can_reject, :can_return
		)`
	_, err := tx.NamedExecContext(ctx, query, step)
	return err
}

func (r *postgresRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*ApprovalWorkflow, error) {
	var wf ApprovalWorkflow
	err := r.db.GetContext(ctx, &wf, "SELECT * FROM approval_workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &wf.Steps,
		"SELECT * FROM approval_steps WHERE workflow_id = $1 ORDER BY step_order", id)
	return &wf, err
}

func (r *postgresRepository) ListWorkflows(ctx context.Context, activeOnly bool) ([]ApprovalWorkflow, error) {
	var wfs []ApprovalWorkflow
	query := "SELECT * FROM approval_workflows"
	if activeOnly {
		query += " WHERE is_active = true"
	}
	query += " ORDER BY priority, name"
	if err := r.db.SelectContext(ctx, &wfs, query); err != nil {
		return nil, err
	}
	for i := range wfs {
		err := r.db.SelectContext(ctx, &wfs[i].Steps,
			"SELECT * FROM approval_steps WHERE workflow_id = $1 ORDER BY step_order", wfs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return wfs, nil
}

func (r *postgresRepository) UpdateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	query := `
		UPDATE approval_workflows SET
			name = :name,
			description = :description,
			workflow_type = :workflow_type,
			is_active = :is_active,
			priority = :priority,
			updated_at = :updated_at
		WHERE id = :id`
	_, err := r.db.NamedExecContext(ctx, query, wf)
	return err
}

func (r *postgresRepository) ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []ApprovalStep) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM approval_steps WHERE workflow_id = $1", workflowID); err != nil {
		return err
	}
	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *postgresRepository) CountActiveRequestsFromStep(ctx context.Context, workflowID uuid.UUID, minStepOrder int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM approval_requests
		WHERE workflow_id = $1 AND current_step_order >= $2
		  AND status IN ('PENDING', 'IN_PROGRESS')`, workflowID, minStepOrder)
	return count, err
}

func (r *postgresRepository) CreateRequest(ctx context.Context, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			id, workflow_id, entity_id, entity_type, request_title, request_description,
			status, last_action, current_step_order, current_approver_id, current_step_due_date,
			requested_by, completed_at, completed_by, rejection_reason, completion_notes,
			version, created_at, updated_at
		) VALUES (
			:id, :workflow_id, :entity_id, :entity_type, :request_title, :request_description,
			:status, :last_action, :current_step_order, :current_approver_id, :current_step_due_date,
			:requested_by, :completed_at, :completed_by, :rejection_reason, :completion_notes,
			:version, :created_at, :updated_at
		)`
	_, err := r.db.NamedExecContext(ctx, query, req)
	return err
}

func (r *postgresRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error) {
	var req ApprovalRequest
	err := r.db.GetContext(ctx, &req, "SELECT * FROM approval_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &req, err
}

func (r *postgresRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error) {
	var reqs []ApprovalRequest
	query := "SELECT * FROM approval_requests WHERE 1=1"
	var args []interface{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.WorkflowID != nil {
		query += fmt.Sprintf(" AND workflow_id = $%d", argCount)
		args = append(args, *filter.WorkflowID)
		argCount++
	}
	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argCount)
		args = append(args, filter.EntityType)
		argCount++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argCount)
		args = append(args, filter.EntityID)
		argCount++
	}
	if filter.ApproverID != nil {
		query += fmt.Sprintf(" AND current_approver_id = $%d", argCount)
		args = append(args, *filter.ApproverID)
		argCount++
	}
	if filter.OverdueAt != nil {
		query += fmt.Sprintf(" AND status = 'IN_PROGRESS' AND current_step_due_date < $%d", argCount)
		args = append(args, *filter.OverdueAt)
		argCount++
	}
	query += " ORDER BY created_at DESC"

	err := r.db.SelectContext(ctx, &reqs, query, args...)
	return reqs, err
}

func (r *postgresRepository) ApplyTransition(ctx context.Context, req *ApprovalRequest, actions ...*ApprovalAction) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE approval_requests SET
			status = :status,
			last_action = :last_action,
			current_step_order = :current_step_order,
			current_approver_id = :current_approver_id,
			current_step_due_date = :current_step_due_date,
			completed_at = :completed_at,
			completed_by = :completed_by,
			rejection_reason = :rejection_reason,
			completion_notes = :completion_notes,
			version = :version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, query, req)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("request %s version %d: %w", req.ID, req.Version, ErrConcurrentModification)
	}

	insert := `
		INSERT INTO approval_actions (
			id, request_id, step_id, step_order, approver_id, action_type,
			comments, action_date, delegated_to_user_id, delegation_reason
		) VALUES (
			:id, :request_id, :step_id, :step_order, :approver_id, :action_type,
			:comments, :action_date, :delegated_to_user_id, :delegation_reason
		)`
	for _, action := range actions {
		if _, err := tx.NamedExecContext(ctx, insert, action); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	req.Version++
	return nil
}

func (r *postgresRepository) ListActionsByRequest(ctx context.Context, requestID uuid.UUID) ([]ApprovalAction, error) {
	var actions []ApprovalAction
	err := r.db.SelectContext(ctx, &actions,
		"SELECT * FROM approval_actions WHERE request_id = $1 ORDER BY action_date, id", requestID)
	return actions, err
}

func (r *postgresRepository) ListActionsByApprover(ctx context.Context, approverID uuid.UUID) ([]ApprovalAction, error) {
	var actions []ApprovalAction
	err := r.db.SelectContext(ctx, &actions,
		"SELECT * FROM approval_actions WHERE approver_id = $1 ORDER BY action_date DESC", approverID)
	return actions, err
}
