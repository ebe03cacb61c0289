package approvals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenderdesk/procurement-backend/pkg/workflows"
)

// RoleResolver is the outbound capability to the user/role directory.
// When requiredUserID is set only that user may act; otherwise the
// resolver picks its deterministic first holder of the role.
type RoleResolver interface {
	ResolveApprover(ctx context.Context, role ApproverRole, requiredUserID *uuid.UUID) (uuid.UUID, error)
	IsHolder(ctx context.Context, userID uuid.UUID, role ApproverRole) (bool, error)
}

// Notifier receives advisory events after a transition commits. Delivery
// failures never affect engine state.
type Notifier interface {
	RequestAwaitingApproval(req *ApprovalRequest, step *ApprovalStep)
	RequestCompleted(req *ApprovalRequest)
}

type noopNotifier struct{}

func (noopNotifier) RequestAwaitingApproval(*ApprovalRequest, *ApprovalStep) {}
func (noopNotifier) RequestCompleted(*ApprovalRequest)                       {}

// newStatusMachine is the authoritative transition table. Every status
// change funnels through terminate or enterStepFrom, both of which
// consult it. Pending may terminate directly: a requester cancel or an
// administrative override before the flow starts.
func newStatusMachine() *workflows.StateMachine {
	return workflows.NewStateMachine(map[string][]string{
		string(StatusPending):    {string(StatusInProgress), string(StatusApproved), string(StatusRejected), string(StatusCancelled)},
		string(StatusInProgress): {string(StatusInProgress), string(StatusApproved), string(StatusRejected), string(StatusCancelled), string(StatusExpired)},
		string(StatusApproved):   {},
		string(StatusRejected):   {},
		string(StatusCancelled):  {},
		string(StatusExpired):    {},
	})
}

// LifecycleService owns the request state machine. Every mutation goes
// through Repository.ApplyTransition so that two concurrent actors on the
// same request cannot both win.
type LifecycleService struct {
	repo     Repository
	resolver RoleResolver
	notifier Notifier
	sm       *workflows.StateMachine
	logger   *zap.Logger
	now      func() time.Time
}

func NewLifecycleService(repo Repository, resolver RoleResolver, notifier Notifier, logger *zap.Logger) *LifecycleService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &LifecycleService{
		repo:     repo,
		resolver: resolver,
		notifier: notifier,
		sm:       newStatusMachine(),
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRequest binds a new request to an active workflow. The request
// starts in Pending at step 0 until Start is called.
func (s *LifecycleService) CreateRequest(ctx context.Context, requestedBy uuid.UUID, in *CreateRequestInput) (*ApprovalRequest, error) {
	wf, err := s.repo.GetWorkflowByID(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %s: %w", in.WorkflowID, ErrNotFound)
	}
	if !wf.IsActive {
		return nil, fmt.Errorf("workflow %s: %w", in.WorkflowID, ErrInactiveWorkflow)
	}

	now := s.now()
	req := &ApprovalRequest{
		ID:                 uuid.New(),
		WorkflowID:         wf.ID,
		EntityID:           in.EntityID,
		EntityType:         in.EntityType,
		RequestTitle:       in.RequestTitle,
		RequestDescription: in.RequestDescription,
		Status:             StatusPending,
		CurrentStepOrder:   0,
		RequestedBy:        requestedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.logger.Info("approval request created",
		zap.String("request_id", req.ID.String()),
		zap.String("workflow_id", wf.ID.String()),
		zap.String("entity_type", req.EntityType),
		zap.String("entity_id", req.EntityID))
	return req, nil
}

func (s *LifecycleService) GetRequest(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error) {
	req, err := s.repo.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return req, nil
}

func (s *LifecycleService) ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error) {
	return s.repo.ListRequests(ctx, filter)
}

// Start enters step 1: resolves its approver, computes its due date and
// moves the request to InProgress. Optional steps with no resolvable
// approver are skipped.
func (s *LifecycleService) Start(ctx context.Context, requestID uuid.UUID) (*ApprovalRequest, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("request %s is %s, expected %s: %w", req.ID, req.Status, StatusPending, ErrInvalidState)
	}
	wf, err := s.repo.GetWorkflowByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s has no steps: %w", req.WorkflowID, ErrValidation)
	}

	req.Status = StatusInProgress
	step, entries, err := s.enterStepFrom(ctx, wf, req, 1)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ApplyTransition(ctx, req, entries...); err != nil {
		return nil, err
	}
	s.logger.Info("approval request started",
		zap.String("request_id", req.ID.String()),
		zap.Int("current_step", req.CurrentStepOrder))
	if req.Status.IsTerminal() {
		s.notifier.RequestCompleted(req)
	} else {
		s.notifier.RequestAwaitingApproval(req, step)
	}
	return req, nil
}

// ProcessAction is the single entry point for all approver activity. The
// mutation and the ledger entry commit atomically; any error leaves the
// persisted request untouched.
func (s *LifecycleService) ProcessAction(ctx context.Context, requestID, approverID uuid.UUID, in *ActionInput) (*ApprovalRequest, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s is already %s: %w", req.ID, req.Status, ErrInvalidState)
	}
	if in.ActionType != ActionCancel {
		if req.Status != StatusInProgress {
			return nil, fmt.Errorf("request %s is %s, expected %s: %w", req.ID, req.Status, StatusInProgress, ErrInvalidState)
		}
		if req.CurrentApproverID == nil || *req.CurrentApproverID != approverID {
			return nil, fmt.Errorf("user %s is not the current approver of request %s: %w", approverID, req.ID, ErrUnauthorizedAction)
		}
	}

	wf, err := s.repo.GetWorkflowByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %s: %w", req.WorkflowID, ErrNotFound)
	}
	step := wf.StepAt(req.CurrentStepOrder)
	if step == nil {
		// Only a Pending request legitimately sits outside the step
		// range (order 0, cancel only). Anything else points at a step
		// the workflow no longer defines.
		if in.ActionType != ActionCancel {
			return nil, fmt.Errorf("request %s sits at step %d which workflow %s does not define: %w",
				req.ID, req.CurrentStepOrder, wf.ID, ErrInvalidState)
		}
	} else if !step.AllowsAction(in.ActionType) {
		return nil, fmt.Errorf("step %d does not allow %s: %w", req.CurrentStepOrder, in.ActionType, ErrActionNotAllowed)
	}

	now := s.now()
	action := &ApprovalAction{
		ID:                uuid.New(),
		RequestID:         req.ID,
		StepOrder:         req.CurrentStepOrder,
		ApproverID:        approverID,
		ActionType:        in.ActionType,
		Comments:          in.Comments,
		ActionDate:        now,
		DelegatedToUserID: in.DelegatedToUserID,
		DelegationReason:  in.DelegationReason,
	}
	if step != nil {
		action.StepID = &step.ID
	}

	var notifyStep *ApprovalStep
	var followups []*ApprovalAction
	switch in.ActionType {
	case ActionApprove:
		notifyStep, followups, err = s.applyApprove(ctx, wf, req, approverID, in.Comments, now)
	case ActionReject:
		err = s.applyReject(req, approverID, in.Comments, now)
	case ActionReturn:
		notifyStep, err = s.applyReturn(ctx, wf, req)
	case ActionDelegate:
		err = s.applyDelegate(ctx, step, req, in)
	case ActionCancel:
		err = s.applyCancel(req, approverID, now)
	case ActionComment, ActionRequestInfo:
		// Ledger entry only.
	default:
		return nil, fmt.Errorf("action type %q is not accepted here: %w", in.ActionType, ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	actionType := in.ActionType
	req.LastAction = &actionType
	req.UpdatedAt = now
	entries := append([]*ApprovalAction{action}, followups...)
	if err := s.repo.ApplyTransition(ctx, req, entries...); err != nil {
		return nil, err
	}

	s.logger.Info("approval action processed",
		zap.String("request_id", req.ID.String()),
		zap.String("action", string(in.ActionType)),
		zap.String("approver_id", approverID.String()),
		zap.String("status", string(req.Status)),
		zap.Int("current_step", req.CurrentStepOrder))

	if req.Status.IsTerminal() {
		s.notifier.RequestCompleted(req)
	} else if notifyStep != nil {
		s.notifier.RequestAwaitingApproval(req, notifyStep)
	}
	return req, nil
}

func (s *LifecycleService) applyApprove(ctx context.Context, wf *ApprovalWorkflow, req *ApprovalRequest, approverID uuid.UUID, notes string, now time.Time) (*ApprovalStep, []*ApprovalAction, error) {
	if req.CurrentStepOrder >= wf.LastStepOrder() {
		if err := s.terminate(req, StatusApproved, approverID, now); err != nil {
			return nil, nil, err
		}
		req.CompletionNotes = notes
		return nil, nil, nil
	}
	return s.enterStepFrom(ctx, wf, req, req.CurrentStepOrder+1)
}

func (s *LifecycleService) applyReject(req *ApprovalRequest, approverID uuid.UUID, reason string, now time.Time) error {
	if reason == "" {
		return fmt.Errorf("rejection requires comments: %w", ErrValidation)
	}
	// Rejection freezes the request at the step it failed on.
	if err := s.terminate(req, StatusRejected, approverID, now); err != nil {
		return err
	}
	req.RejectionReason = reason
	return nil
}

func (s *LifecycleService) applyReturn(ctx context.Context, wf *ApprovalWorkflow, req *ApprovalRequest) (*ApprovalStep, error) {
	if req.CurrentStepOrder <= 1 {
		return nil, fmt.Errorf("step 1 cannot be returned from: %w", ErrActionNotAllowed)
	}
	prev := wf.StepAt(req.CurrentStepOrder - 1)
	if prev == nil {
		return nil, fmt.Errorf("workflow %s has no step %d: %w", wf.ID, req.CurrentStepOrder-1, ErrValidation)
	}
	approver, err := s.resolver.ResolveApprover(ctx, prev.RequiredRole, prev.RequiredUserID)
	if err != nil {
		return nil, fmt.Errorf("step %d (%s): %v: %w", prev.StepOrder, prev.RequiredRole, err, ErrApproverResolution)
	}
	// The returned-to approver gets a fresh full time limit.
	req.CurrentStepOrder = prev.StepOrder
	req.CurrentApproverID = &approver
	req.CurrentStepDueDate = dueDate(s.now(), prev.TimeLimitDays)
	return prev, nil
}

func (s *LifecycleService) applyDelegate(ctx context.Context, step *ApprovalStep, req *ApprovalRequest, in *ActionInput) error {
	if in.DelegatedToUserID == nil {
		return fmt.Errorf("delegation requires delegated_to_user_id: %w", ErrValidation)
	}
	// The delegate must hold the step's role so the step keeps its
	// required authority.
	holds, err := s.resolver.IsHolder(ctx, *in.DelegatedToUserID, step.RequiredRole)
	if err != nil {
		return fmt.Errorf("delegate %s: %v: %w", in.DelegatedToUserID, err, ErrApproverResolution)
	}
	if !holds {
		return fmt.Errorf("delegate %s does not hold role %s: %w", in.DelegatedToUserID, step.RequiredRole, ErrValidation)
	}
	// Step order and due date are untouched; only the empowered user changes.
	req.CurrentApproverID = in.DelegatedToUserID
	return nil
}

func (s *LifecycleService) applyCancel(req *ApprovalRequest, actorID uuid.UUID, now time.Time) error {
	return s.terminate(req, StatusCancelled, actorID, now)
}

// Complete is an administrative override that approves the request outside
// the step flow. The ledger records it as COMPLETE rather than APPROVE so
// the override stays distinguishable from a step approval. Callers must
// gate access separately.
func (s *LifecycleService) Complete(ctx context.Context, requestID, actorID uuid.UUID, notes string) (*ApprovalRequest, error) {
	return s.adminTerminate(ctx, requestID, actorID, ActionComplete, func(req *ApprovalRequest, now time.Time) error {
		if err := s.terminate(req, StatusApproved, actorID, now); err != nil {
			return err
		}
		req.CompletionNotes = notes
		return nil
	}, notes)
}

// RejectOverride is the administrative counterpart of Complete.
func (s *LifecycleService) RejectOverride(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*ApprovalRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("rejection requires a reason: %w", ErrValidation)
	}
	return s.adminTerminate(ctx, requestID, actorID, ActionReject, func(req *ApprovalRequest, now time.Time) error {
		if err := s.terminate(req, StatusRejected, actorID, now); err != nil {
			return err
		}
		req.RejectionReason = reason
		return nil
	}, reason)
}

// Expire marks an overdue request Expired. The overdue scan never calls
// this on its own; expiry is an explicit administrative decision that
// follows the same serialized transition path as any approver action.
func (s *LifecycleService) Expire(ctx context.Context, requestID, actorID uuid.UUID) (*ApprovalRequest, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !req.IsOverdue(now) {
		return nil, fmt.Errorf("request %s is not overdue: %w", req.ID, ErrInvalidState)
	}
	action := &ApprovalAction{
		ID:         uuid.New(),
		RequestID:  req.ID,
		StepOrder:  req.CurrentStepOrder,
		ApproverID: actorID,
		ActionType: ActionExpire,
		ActionDate: now,
	}
	if err := s.terminate(req, StatusExpired, actorID, now); err != nil {
		return nil, err
	}
	expired := ActionExpire
	req.LastAction = &expired
	req.UpdatedAt = now
	if err := s.repo.ApplyTransition(ctx, req, action); err != nil {
		return nil, err
	}
	s.logger.Warn("approval request expired",
		zap.String("request_id", req.ID.String()),
		zap.Int("step", req.CurrentStepOrder))
	s.notifier.RequestCompleted(req)
	return req, nil
}

func (s *LifecycleService) adminTerminate(ctx context.Context, requestID, actorID uuid.UUID, actionType ActionType, mutate func(*ApprovalRequest, time.Time) error, comments string) (*ApprovalRequest, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s is already %s: %w", req.ID, req.Status, ErrInvalidState)
	}
	now := s.now()
	action := &ApprovalAction{
		ID:         uuid.New(),
		RequestID:  req.ID,
		StepOrder:  req.CurrentStepOrder,
		ApproverID: actorID,
		ActionType: actionType,
		Comments:   comments,
		ActionDate: now,
	}
	if err := mutate(req, now); err != nil {
		return nil, err
	}
	req.LastAction = &actionType
	req.UpdatedAt = now
	if err := s.repo.ApplyTransition(ctx, req, action); err != nil {
		return nil, err
	}
	s.notifier.RequestCompleted(req)
	return req, nil
}

// enterStepFrom resolves the first actionable step at or after order.
// Optional steps with no resolvable approver are skipped, each skip
// recorded as a SKIP ledger entry; running past the last step
// auto-approves the request with a closing COMPLETE entry. A required
// step that fails to resolve aborts with ErrApproverResolution before
// any persistence. The returned entries must be committed with the
// request in the same ApplyTransition call.
func (s *LifecycleService) enterStepFrom(ctx context.Context, wf *ApprovalWorkflow, req *ApprovalRequest, order int) (*ApprovalStep, []*ApprovalAction, error) {
	now := s.now()
	last := wf.LastStepOrder()
	var entries []*ApprovalAction
	for ; order <= last; order++ {
		step := wf.StepAt(order)
		if step == nil {
			return nil, nil, fmt.Errorf("workflow %s has no step %d: %w", wf.ID, order, ErrValidation)
		}
		approver, err := s.resolver.ResolveApprover(ctx, step.RequiredRole, step.RequiredUserID)
		if err != nil {
			if !step.IsRequired {
				entries = append(entries, &ApprovalAction{
					ID:         uuid.New(),
					RequestID:  req.ID,
					StepID:     &step.ID,
					StepOrder:  step.StepOrder,
					ActionType: ActionSkip,
					Comments:   "no eligible approver",
					ActionDate: s.now(),
				})
				continue
			}
			return nil, nil, fmt.Errorf("step %d (%s): %v: %w", step.StepOrder, step.RequiredRole, err, ErrApproverResolution)
		}
		req.Status = StatusInProgress
		req.CurrentStepOrder = step.StepOrder
		req.CurrentApproverID = &approver
		req.CurrentStepDueDate = dueDate(now, step.TimeLimitDays)
		return step, entries, nil
	}
	// Every remaining step was optional and unresolvable.
	actor := req.RequestedBy
	if req.CurrentApproverID != nil {
		actor = *req.CurrentApproverID
	}
	if err := s.terminate(req, StatusApproved, actor, now); err != nil {
		return nil, nil, err
	}
	entries = append(entries, &ApprovalAction{
		ID:         uuid.New(),
		RequestID:  req.ID,
		StepOrder:  req.CurrentStepOrder,
		ApproverID: actor,
		ActionType: ActionComplete,
		Comments:   "remaining optional steps had no eligible approver",
		ActionDate: s.now(),
	})
	return nil, entries, nil
}

func (s *LifecycleService) terminate(req *ApprovalRequest, status RequestStatus, actorID uuid.UUID, now time.Time) error {
	if !s.sm.CanTransition(string(req.Status), string(status)) {
		return fmt.Errorf("request cannot move from %s to %s: %w", req.Status, status, ErrInvalidState)
	}
	req.Status = status
	req.CompletedAt = &now
	req.CompletedBy = &actorID
	req.CurrentStepDueDate = nil
	return nil
}

// dueDate computes step-entry time plus the step's limit. A zero limit
// means the step has no deadline.
func dueDate(entered time.Time, limitDays int) *time.Time {
	if limitDays <= 0 {
		return nil
	}
	due := entered.AddDate(0, 0, limitDays)
	return &due
}
