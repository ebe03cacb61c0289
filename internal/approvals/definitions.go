package approvals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefinitionService owns ApprovalWorkflow records and their steps. It has
// no behavior beyond persistence and the step-ordering constraint: orders
// within one workflow are unique and contiguous from 1.
type DefinitionService struct {
	repo   Repository
	logger *zap.Logger
}

func NewDefinitionService(repo Repository, logger *zap.Logger) *DefinitionService {
	return &DefinitionService{repo: repo, logger: logger}
}

func (s *DefinitionService) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*ApprovalWorkflow, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("workflow name is required: %w", ErrValidation)
	}
	now := time.Now()
	wf := &ApprovalWorkflow{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		WorkflowType: req.WorkflowType,
		IsActive:     true,
		Priority:     req.Priority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, stepReq := range req.Steps {
		wf.Steps = append(wf.Steps, buildStep(wf.ID, stepReq))
	}
	if err := validateStepOrders(wf.Steps); err != nil {
		return nil, err
	}

	if err := s.repo.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	s.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("workflow_type", string(wf.WorkflowType)),
		zap.Int("steps", len(wf.Steps)))
	return wf, nil
}

func (s *DefinitionService) GetWorkflow(ctx context.Context, id uuid.UUID) (*ApprovalWorkflow, error) {
	wf, err := s.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf, nil
}

func (s *DefinitionService) ListWorkflows(ctx context.Context, activeOnly bool) ([]ApprovalWorkflow, error) {
	return s.repo.ListWorkflows(ctx, activeOnly)
}

// UpdateWorkflow updates name, description, type, and priority. Steps are
// managed through the step operations; activation through SetActive.
func (s *DefinitionService) UpdateWorkflow(ctx context.Context, id uuid.UUID, req *CreateWorkflowRequest) (*ApprovalWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("workflow name is required: %w", ErrValidation)
	}
	wf.Name = req.Name
	wf.Description = req.Description
	wf.WorkflowType = req.WorkflowType
	wf.Priority = req.Priority
	wf.UpdatedAt = time.Now()
	if err := s.repo.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return wf, nil
}

// SetActive toggles whether new requests may be created against the
// workflow. In-flight requests are unaffected.
func (s *DefinitionService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*ApprovalWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.IsActive = active
	wf.UpdatedAt = time.Now()
	if err := s.repo.UpdateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	s.logger.Info("workflow activation changed",
		zap.String("workflow_id", id.String()),
		zap.Bool("is_active", active))
	return wf, nil
}

func (s *DefinitionService) AddStep(ctx context.Context, workflowID uuid.UUID, req CreateStepRequest) (*ApprovalWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps := append(append([]ApprovalStep(nil), wf.Steps...), buildStep(workflowID, req))
	if err := validateStepOrders(steps); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSteps(ctx, workflowID, steps); err != nil {
		return nil, fmt.Errorf("failed to persist steps: %w", err)
	}
	wf.Steps = steps
	return wf, nil
}

func (s *DefinitionService) UpdateStep(ctx context.Context, workflowID, stepID uuid.UUID, req CreateStepRequest) (*ApprovalWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps := append([]ApprovalStep(nil), wf.Steps...)
	found := false
	for i := range steps {
		if steps[i].ID == stepID {
			updated := buildStep(workflowID, req)
			updated.ID = stepID
			steps[i] = updated
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	if err := validateStepOrders(steps); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSteps(ctx, workflowID, steps); err != nil {
		return nil, fmt.Errorf("failed to persist steps: %w", err)
	}
	wf.Steps = steps
	return wf, nil
}

// DeleteStep removes a step and renumbers the remainder to keep the
// sequence dense. Renumbering shifts everything from the deleted order
// on, so removal is blocked while any non-terminal request sits at or
// beyond that order.
func (s *DefinitionService) DeleteStep(ctx context.Context, workflowID, stepID uuid.UUID) (*ApprovalWorkflow, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var target *ApprovalStep
	for i := range wf.Steps {
		if wf.Steps[i].ID == stepID {
			target = &wf.Steps[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}

	inUse, err := s.repo.CountActiveRequestsFromStep(ctx, workflowID, target.StepOrder)
	if err != nil {
		return nil, err
	}
	if inUse > 0 {
		return nil, fmt.Errorf("%d in-flight requests sit at or beyond step %d: %w", inUse, target.StepOrder, ErrConflict)
	}

	var steps []ApprovalStep
	for _, st := range wf.Steps {
		if st.ID != stepID {
			steps = append(steps, st)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	for i := range steps {
		steps[i].StepOrder = i + 1
	}
	if err := s.repo.ReplaceSteps(ctx, workflowID, steps); err != nil {
		return nil, fmt.Errorf("failed to persist steps: %w", err)
	}
	wf.Steps = steps
	return wf, nil
}

func buildStep(workflowID uuid.UUID, req CreateStepRequest) ApprovalStep {
	isRequired := true
	if req.IsRequired != nil {
		isRequired = *req.IsRequired
	}
	return ApprovalStep{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		StepOrder:      req.StepOrder,
		StepName:       req.StepName,
		Description:    req.Description,
		RequiredRole:   req.RequiredRole,
		RequiredUserID: req.RequiredUserID,
		IsRequired:     isRequired,
		TimeLimitDays:  req.TimeLimitDays,
		CanDelegate:    req.CanDelegate,
		CanReject:      req.CanReject,
		CanReturn:      req.CanReturn,
	}
}

// validateStepOrders enforces unique, contiguous orders starting at 1 and
// non-negative time limits.
func validateStepOrders(steps []ApprovalStep) error {
	seen := make(map[int]bool, len(steps))
	for _, st := range steps {
		if st.StepName == "" {
			return fmt.Errorf("step %d has no name: %w", st.StepOrder, ErrValidation)
		}
		if st.TimeLimitDays < 0 {
			return fmt.Errorf("step %d has negative time limit: %w", st.StepOrder, ErrValidation)
		}
		if st.StepOrder < 1 {
			return fmt.Errorf("step order %d is below 1: %w", st.StepOrder, ErrValidation)
		}
		if seen[st.StepOrder] {
			return fmt.Errorf("duplicate step order %d: %w", st.StepOrder, ErrValidation)
		}
		seen[st.StepOrder] = true
	}
	for order := 1; order <= len(steps); order++ {
		if !seen[order] {
			return fmt.Errorf("step orders must be contiguous from 1, missing %d: %w", order, ErrValidation)
		}
	}
	return nil
}
