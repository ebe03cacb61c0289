package approvals

import (
	"context"

	"github.com/google/uuid"
)

// LedgerService is the read side of the append-only action store. Entries
// are written exclusively through Repository.ApplyTransition; nothing here
// mutates.
type LedgerService struct {
	repo Repository
}

func NewLedgerService(repo Repository) *LedgerService {
	return &LedgerService{repo: repo}
}

// ListByRequest returns a request's actions in chronological order.
func (s *LedgerService) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]ApprovalAction, error) {
	return s.repo.ListActionsByRequest(ctx, requestID)
}

// ListByApprover returns every action a user has taken, newest first.
func (s *LedgerService) ListByApprover(ctx context.Context, approverID uuid.UUID) ([]ApprovalAction, error) {
	return s.repo.ListActionsByApprover(ctx, approverID)
}

// Replay recomputes (Status, CurrentStepOrder) for a started request by
// folding its actions, in ActionDate order, over the workflow definition.
// Each entry carries the step it was taken at: approver actions re-sync
// on it before applying, terminal entries restate it exactly (an
// administrative override or a pre-start cancel freezes the request at
// whatever order it held, including 0). Engine-recorded SKIP, COMPLETE
// and EXPIRE entries fold like any other, so every persisted state is
// the pure projection of the ledger; live request rows must match it.
func Replay(wf *ApprovalWorkflow, actions []ApprovalAction) (RequestStatus, int) {
	status := StatusInProgress
	step := 1
	last := wf.LastStepOrder()

	for _, a := range actions {
		switch a.ActionType {
		case ActionApprove:
			step = a.StepOrder
			if step >= last {
				status = StatusApproved
			} else {
				step++
			}
		case ActionSkip:
			// The skipped step was never entered; the request moved on
			// to the next candidate.
			step = a.StepOrder + 1
		case ActionReturn:
			step = a.StepOrder - 1
		case ActionReject:
			status = StatusRejected
			step = a.StepOrder
		case ActionCancel:
			status = StatusCancelled
			step = a.StepOrder
		case ActionComplete:
			status = StatusApproved
			step = a.StepOrder
		case ActionExpire:
			status = StatusExpired
			step = a.StepOrder
		case ActionDelegate, ActionComment, ActionRequestInfo:
			// No lifecycle effect.
		}
		if status.IsTerminal() {
			break
		}
	}
	return status, step
}

// VerifyProjection checks a live request row against the ledger replay.
// Pending requests have an empty ledger and trivially verify; everything
// else, terminal or not, must reproduce from its actions.
func (s *LedgerService) VerifyProjection(ctx context.Context, wf *ApprovalWorkflow, req *ApprovalRequest) (bool, error) {
	if req.Status == StatusPending {
		return true, nil
	}
	actions, err := s.repo.ListActionsByRequest(ctx, req.ID)
	if err != nil {
		return false, err
	}
	status, step := Replay(wf, actions)
	return status == req.Status && step == req.CurrentStepOrder, nil
}
