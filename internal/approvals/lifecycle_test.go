package approvals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubResolver resolves each role to its first listed holder, mirroring
// the directory's "first active holder" rule without a database.
type stubResolver struct {
	holders map[ApproverRole][]uuid.UUID
}

func (r stubResolver) ResolveApprover(ctx context.Context, role ApproverRole, requiredUserID *uuid.UUID) (uuid.UUID, error) {
	if requiredUserID != nil {
		return *requiredUserID, nil
	}
	ids := r.holders[role]
	if len(ids) == 0 {
		return uuid.Nil, fmt.Errorf("no active holder of role %s", role)
	}
	return ids[0], nil
}

func (r stubResolver) IsHolder(ctx context.Context, userID uuid.UUID, role ApproverRole) (bool, error) {
	for _, id := range r.holders[role] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// testClock hands out strictly increasing times so ledger ordering is
// deterministic.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type lifecycleFixture struct {
	repo       Repository
	svc        *LifecycleService
	clock      *testClock
	wf         *ApprovalWorkflow
	deptHead   uuid.UUID
	deptDeputy uuid.UUID
	contracts  uuid.UUID
	general    uuid.UUID
	requester  uuid.UUID
}

// newLifecycleFixture builds a three step tender workflow: department head
// (3 days), branch contracts manager (5 days, may return), general manager
// (7 days, may reject).
func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		repo:       NewMemoryRepository(),
		clock:      newTestClock(),
		deptHead:   uuid.New(),
		deptDeputy: uuid.New(),
		contracts:  uuid.New(),
		general:    uuid.New(),
		requester:  uuid.New(),
	}
	resolver := stubResolver{holders: map[ApproverRole][]uuid.UUID{
		RoleDepartmentHead:         {f.deptHead, f.deptDeputy},
		RoleBranchContractsManager: {f.contracts},
		RoleGeneralManager:         {f.general},
	}}
	f.svc = NewLifecycleService(f.repo, resolver, nil, zap.NewNop())
	f.svc.now = f.clock.Now

	defs := NewDefinitionService(f.repo, zap.NewNop())
	wf, err := defs.CreateWorkflow(context.Background(), &CreateWorkflowRequest{
		Name:         "Tender approval",
		WorkflowType: TypeTenderApproval,
		Steps: []CreateStepRequest{
			{StepOrder: 1, StepName: "Department review", RequiredRole: RoleDepartmentHead, TimeLimitDays: 3, CanReject: true, CanDelegate: true},
			{StepOrder: 2, StepName: "Contracts review", RequiredRole: RoleBranchContractsManager, TimeLimitDays: 5, CanReject: true, CanReturn: true},
			{StepOrder: 3, StepName: "Final signoff", RequiredRole: RoleGeneralManager, TimeLimitDays: 7, CanReject: true},
		},
	})
	require.NoError(t, err)
	f.wf = wf
	return f
}

func (f *lifecycleFixture) createAndStart(t *testing.T) *ApprovalRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.CreateRequest(ctx, f.requester, &CreateRequestInput{
		WorkflowID:   f.wf.ID,
		EntityID:     "TND-2026-0142",
		EntityType:   "TENDER",
		RequestTitle: "Road maintenance tender",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, 0, req.CurrentStepOrder)

	started, err := f.svc.Start(ctx, req.ID)
	require.NoError(t, err)
	return started
}

func TestStartEntersFirstStep(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	assert.Equal(t, StatusInProgress, req.Status)
	assert.Equal(t, 1, req.CurrentStepOrder)
	require.NotNil(t, req.CurrentApproverID)
	assert.Equal(t, f.deptHead, *req.CurrentApproverID)
	require.NotNil(t, req.CurrentStepDueDate)
}

func TestStartRequiresPending(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	_, err := f.svc.Start(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateRequestRejectsInactiveWorkflow(t *testing.T) {
	f := newLifecycleFixture(t)
	defs := NewDefinitionService(f.repo, zap.NewNop())
	_, err := defs.SetActive(context.Background(), f.wf.ID, false)
	require.NoError(t, err)

	_, err = f.svc.CreateRequest(context.Background(), f.requester, &CreateRequestInput{
		WorkflowID:   f.wf.ID,
		EntityID:     "TND-2026-0143",
		EntityType:   "TENDER",
		RequestTitle: "Late tender",
	})
	assert.ErrorIs(t, err, ErrInactiveWorkflow)
}

// Full chain: approve, return, approve, approve, reject. The request ends
// Rejected frozen at step 3 and the ledger holds all five actions.
func TestApproveReturnRejectChain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	req, err := f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 2, req.CurrentStepOrder)
	assert.Equal(t, f.contracts, *req.CurrentApproverID)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.contracts, &ActionInput{ActionType: ActionReturn, Comments: "missing cost breakdown"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, req.Status)
	assert.Equal(t, 1, req.CurrentStepOrder)
	assert.Equal(t, f.deptHead, *req.CurrentApproverID)
	// Returning grants the earlier approver a fresh full time limit.
	require.NotNil(t, req.CurrentStepDueDate)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 2, req.CurrentStepOrder)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.contracts, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 3, req.CurrentStepOrder)
	assert.Equal(t, f.general, *req.CurrentApproverID)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.general, &ActionInput{ActionType: ActionReject, Comments: "budget ceiling exceeded"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, req.Status)
	// Rejection freezes the request at the step it failed on.
	assert.Equal(t, 3, req.CurrentStepOrder)
	assert.Equal(t, "budget ceiling exceeded", req.RejectionReason)
	require.NotNil(t, req.CompletedAt)
	assert.Equal(t, f.general, *req.CompletedBy)

	actions, err := f.repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 5)
	types := make([]ActionType, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.ActionType)
	}
	assert.Equal(t, []ActionType{ActionApprove, ActionReturn, ActionApprove, ActionApprove, ActionReject}, types)

	status, step := Replay(f.wf, actions)
	assert.Equal(t, req.Status, status)
	assert.Equal(t, req.CurrentStepOrder, step)
}

func TestFinalStepApproveCompletes(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	for _, approver := range []uuid.UUID{f.deptHead, f.contracts} {
		var err error
		req, err = f.svc.ProcessAction(ctx, req.ID, approver, &ActionInput{ActionType: ActionApprove})
		require.NoError(t, err)
	}
	req, err := f.svc.ProcessAction(ctx, req.ID, f.general, &ActionInput{ActionType: ActionApprove, Comments: "cleared"})
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, "cleared", req.CompletionNotes)
	require.NotNil(t, req.CompletedAt)
	assert.Nil(t, req.CurrentStepDueDate)
}

func TestActionByWrongUser(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	_, err := f.svc.ProcessAction(context.Background(), req.ID, f.general, &ActionInput{ActionType: ActionApprove})
	assert.ErrorIs(t, err, ErrUnauthorizedAction)
}

func TestRejectRequiresComments(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	_, err := f.svc.ProcessAction(context.Background(), req.ID, f.deptHead, &ActionInput{ActionType: ActionReject})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReturnBlockedOnFirstStep(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	// Step 1 does not carry the return flag, so the gate fires before the
	// "nowhere to return to" rule.
	_, err := f.svc.ProcessAction(context.Background(), req.ID, f.deptHead, &ActionInput{ActionType: ActionReturn})
	assert.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestDelegateReassignsWithoutAdvancing(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)
	dueBefore := *req.CurrentStepDueDate

	req, err := f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{
		ActionType:        ActionDelegate,
		DelegatedToUserID: &f.deptDeputy,
		DelegationReason:  "on leave",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, req.CurrentStepOrder)
	assert.Equal(t, f.deptDeputy, *req.CurrentApproverID)
	assert.Equal(t, dueBefore, *req.CurrentStepDueDate)

	// The original approver no longer holds the step.
	_, err = f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	assert.ErrorIs(t, err, ErrUnauthorizedAction)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.deptDeputy, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 2, req.CurrentStepOrder)
}

func TestDelegateRequiresRoleHolder(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	outsider := uuid.New()
	_, err := f.svc.ProcessAction(context.Background(), req.ID, f.deptHead, &ActionInput{
		ActionType:        ActionDelegate,
		DelegatedToUserID: &outsider,
	})
	assert.ErrorIs(t, err, ErrValidation)

	stored, err := f.repo.GetRequestByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, f.deptHead, *stored.CurrentApproverID)
}

func TestDelegateRequiresTarget(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.createAndStart(t)

	_, err := f.svc.ProcessAction(context.Background(), req.ID, f.deptHead, &ActionInput{ActionType: ActionDelegate})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelegateBlockedByStepFlag(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	req, err := f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)

	// Step 2 has CanDelegate false.
	delegate := uuid.New()
	_, err = f.svc.ProcessAction(ctx, req.ID, f.contracts, &ActionInput{ActionType: ActionDelegate, DelegatedToUserID: &delegate})
	assert.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestCancelFromPending(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req, err := f.svc.CreateRequest(ctx, f.requester, &CreateRequestInput{
		WorkflowID:   f.wf.ID,
		EntityID:     "TND-2026-0144",
		EntityType:   "TENDER",
		RequestTitle: "Withdrawn tender",
	})
	require.NoError(t, err)

	req, err = f.svc.ProcessAction(ctx, req.ID, f.requester, &ActionInput{ActionType: ActionCancel, Comments: "withdrawn by requester"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, req.Status)
	require.NotNil(t, req.CompletedAt)
}

func TestActionOnTerminalRequest(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	req, err := f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionReject, Comments: "not viable"})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, req.Status)

	_, err = f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionComment, Comments: "too late"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCommentLeavesStateUntouched(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	commented, err := f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionComment, Comments: "checking with finance"})
	require.NoError(t, err)
	assert.Equal(t, req.Status, commented.Status)
	assert.Equal(t, req.CurrentStepOrder, commented.CurrentStepOrder)
	assert.Equal(t, *req.CurrentApproverID, *commented.CurrentApproverID)

	actions, err := f.repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionComment, actions[0].ActionType)
}

func TestOptionalStepSkippedWhenUnresolvable(t *testing.T) {
	repo := NewMemoryRepository()
	deptHead, general, requester := uuid.New(), uuid.New(), uuid.New()
	resolver := stubResolver{holders: map[ApproverRole][]uuid.UUID{
		RoleDepartmentHead: {deptHead},
		RoleGeneralManager: {general},
		// RoleLegalAffairs has no holder.
	}}
	svc := NewLifecycleService(repo, resolver, nil, zap.NewNop())
	svc.now = newTestClock().Now
	defs := NewDefinitionService(repo, zap.NewNop())

	ctx := context.Background()
	optional := false
	wf, err := defs.CreateWorkflow(ctx, &CreateWorkflowRequest{
		Name:         "Contract approval",
		WorkflowType: TypeContractApproval,
		Steps: []CreateStepRequest{
			{StepOrder: 1, StepName: "Department review", RequiredRole: RoleDepartmentHead},
			{StepOrder: 2, StepName: "Legal review", RequiredRole: RoleLegalAffairs, IsRequired: &optional},
			{StepOrder: 3, StepName: "Final signoff", RequiredRole: RoleGeneralManager},
		},
	})
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, requester, &CreateRequestInput{
		WorkflowID:   wf.ID,
		EntityID:     "CT-77",
		EntityType:   "CONTRACT",
		RequestTitle: "Supply contract",
	})
	require.NoError(t, err)
	req, err = svc.Start(ctx, req.ID)
	require.NoError(t, err)

	req, err = svc.ProcessAction(ctx, req.ID, deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	// Legal has no holder and the step is optional, so the request lands
	// directly on step 3.
	assert.Equal(t, 3, req.CurrentStepOrder)
	assert.Equal(t, general, *req.CurrentApproverID)

	// The skipped step shows in the ledger, so the live row reproduces
	// from its actions alone.
	actions, err := repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionApprove, actions[0].ActionType)
	assert.Equal(t, ActionSkip, actions[1].ActionType)
	assert.Equal(t, 2, actions[1].StepOrder)

	status, step := Replay(wf, actions)
	assert.Equal(t, req.Status, status)
	assert.Equal(t, req.CurrentStepOrder, step)
}

func TestRequiredStepUnresolvableAborts(t *testing.T) {
	repo := NewMemoryRepository()
	requester := uuid.New()
	svc := NewLifecycleService(repo, stubResolver{holders: map[ApproverRole][]uuid.UUID{}}, nil, zap.NewNop())
	defs := NewDefinitionService(repo, zap.NewNop())

	ctx := context.Background()
	wf, err := defs.CreateWorkflow(ctx, &CreateWorkflowRequest{
		Name:         "Orphaned workflow",
		WorkflowType: TypeGeneralApproval,
		Steps: []CreateStepRequest{
			{StepOrder: 1, StepName: "Department review", RequiredRole: RoleDepartmentHead},
		},
	})
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, requester, &CreateRequestInput{
		WorkflowID:   wf.ID,
		EntityID:     "GN-1",
		EntityType:   "MATTER",
		RequestTitle: "General matter",
	})
	require.NoError(t, err)

	_, err = svc.Start(ctx, req.ID)
	assert.ErrorIs(t, err, ErrApproverResolution)

	// The failed start left no partial state behind.
	stored, err := repo.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestTrailingOptionalStepsAutoApprove(t *testing.T) {
	repo := NewMemoryRepository()
	deptHead, requester := uuid.New(), uuid.New()
	resolver := stubResolver{holders: map[ApproverRole][]uuid.UUID{RoleDepartmentHead: {deptHead}}}
	svc := NewLifecycleService(repo, resolver, nil, zap.NewNop())
	svc.now = newTestClock().Now
	defs := NewDefinitionService(repo, zap.NewNop())

	ctx := context.Background()
	optional := false
	wf, err := defs.CreateWorkflow(ctx, &CreateWorkflowRequest{
		Name:         "Support matter approval",
		WorkflowType: TypeSupportMatterApproval,
		Steps: []CreateStepRequest{
			{StepOrder: 1, StepName: "Department review", RequiredRole: RoleDepartmentHead},
			{StepOrder: 2, StepName: "Financial review", RequiredRole: RoleFinancialManager, IsRequired: &optional},
		},
	})
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, requester, &CreateRequestInput{
		WorkflowID:   wf.ID,
		EntityID:     "SM-9",
		EntityType:   "SUPPORT_MATTER",
		RequestTitle: "Office lease",
	})
	require.NoError(t, err)
	req, err = svc.Start(ctx, req.ID)
	require.NoError(t, err)

	req, err = svc.ProcessAction(ctx, req.ID, deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)

	// Auto-approval closes the ledger with a skip for the unresolvable
	// step and an engine completion entry.
	actions, err := repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, ActionApprove, actions[0].ActionType)
	assert.Equal(t, ActionSkip, actions[1].ActionType)
	assert.Equal(t, ActionComplete, actions[2].ActionType)

	status, step := Replay(wf, actions)
	assert.Equal(t, req.Status, status)
	assert.Equal(t, req.CurrentStepOrder, step)
}

func TestExpireRequiresOverdue(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)
	admin := uuid.New()

	_, err := f.svc.Expire(ctx, req.ID, admin)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Jump the clock past the step's 3 day limit.
	f.clock.mu.Lock()
	f.clock.t = f.clock.t.AddDate(0, 0, 4)
	f.clock.mu.Unlock()

	expired, err := f.svc.Expire(ctx, req.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, expired.Status)
	assert.Equal(t, admin, *expired.CompletedBy)

	// Expiry is recorded like any other transition.
	actions, err := f.repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionExpire, actions[0].ActionType)
	assert.Equal(t, admin, actions[0].ApproverID)
	assert.Equal(t, 1, actions[0].StepOrder)

	status, step := Replay(f.wf, actions)
	assert.Equal(t, StatusExpired, status)
	assert.Equal(t, expired.CurrentStepOrder, step)
}

func TestStaleTransitionLosesVersionRace(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	stale, err := f.repo.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)

	// First writer wins and bumps the version.
	fresh, err := f.repo.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	fresh.Status = StatusCancelled
	require.NoError(t, f.repo.ApplyTransition(ctx, fresh))

	stale.Status = StatusRejected
	err = f.repo.ApplyTransition(ctx, stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestConcurrentActionsExactlyOneWins(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	inputs := []*ActionInput{
		{ActionType: ActionApprove},
		{ActionType: ActionReject, Comments: "duplicate submission"},
	}
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ProcessAction(ctx, req.ID, f.deptHead, inputs[i])
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
			assert.True(t,
				errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrUnauthorizedAction),
				"unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two concurrent actions must fail")

	final, err := f.repo.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	actions, err := f.repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	if actions[0].ActionType == ActionApprove {
		assert.Equal(t, 2, final.CurrentStepOrder)
	} else {
		assert.Equal(t, StatusRejected, final.Status)
	}
}

func TestAdminOverrides(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	admin := uuid.New()

	req := f.createAndStart(t)
	completed, err := f.svc.Complete(ctx, req.ID, admin, "escalated and resolved offline")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, completed.Status)
	assert.Equal(t, admin, *completed.CompletedBy)

	// The override is ledgered as COMPLETE, not as a step approval.
	actions, err := f.repo.ListActionsByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionComplete, actions[0].ActionType)

	req2 := f.createAndStart(t)
	_, err = f.svc.RejectOverride(ctx, req2.ID, admin, "")
	assert.ErrorIs(t, err, ErrValidation)

	rejected, err := f.svc.RejectOverride(ctx, req2.ID, admin, "procurement plan withdrawn")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "procurement plan withdrawn", rejected.RejectionReason)
}

// A request whose current step vanished from its workflow must refuse
// step-gated actions instead of bypassing the step's permission flags.
func TestActionOnMissingStepFailsClosed(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := f.createAndStart(t)

	stored, err := f.repo.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	stored.CurrentStepOrder = 9
	require.NoError(t, f.repo.ApplyTransition(ctx, stored))

	_, err = f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionReturn})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.ProcessAction(ctx, req.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	assert.ErrorIs(t, err, ErrInvalidState)
}
