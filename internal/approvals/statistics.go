package approvals

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StatisticsService computes read-side rollups on demand from the request
// store and the action ledger. Nothing is maintained incrementally, so
// the numbers cannot drift from the stores they summarize.
type StatisticsService struct {
	repo      Repository
	workflows Repository
	now       func() time.Time
}

func NewStatisticsService(repo Repository) *StatisticsService {
	return &StatisticsService{repo: repo, workflows: repo, now: time.Now}
}

func (s *StatisticsService) Compute(ctx context.Context) (*Statistics, error) {
	now := s.now()
	requests, err := s.repo.ListRequests(ctx, RequestFilter{})
	if err != nil {
		return nil, err
	}
	wfs, err := s.workflows.ListWorkflows(ctx, false)
	if err != nil {
		return nil, err
	}
	typeByWorkflow := make(map[uuid.UUID]WorkflowType, len(wfs))
	for _, wf := range wfs {
		typeByWorkflow[wf.ID] = wf.WorkflowType
	}

	stats := &Statistics{
		TotalRequests:  len(requests),
		ByStatus:       make(map[RequestStatus]int),
		ByWorkflowType: make(map[WorkflowType]int),
		ComputedAt:     now,
	}

	var completed int
	var completionTotal time.Duration
	pendingByApprover := make(map[uuid.UUID]int)
	for _, req := range requests {
		stats.ByStatus[req.Status]++
		if t, ok := typeByWorkflow[req.WorkflowID]; ok {
			stats.ByWorkflowType[t]++
		}
		if req.IsOverdue(now) {
			stats.OverdueCount++
		}
		if req.Status == StatusInProgress && req.CurrentApproverID != nil {
			pendingByApprover[*req.CurrentApproverID]++
		}
		if req.CompletedAt != nil {
			completed++
			completionTotal += req.CompletedAt.Sub(req.CreatedAt)
		}
	}
	if completed > 0 {
		stats.AvgCompletionSeconds = completionTotal.Seconds() / float64(completed)
	}

	throughput, err := s.approverThroughput(ctx, requests, pendingByApprover)
	if err != nil {
		return nil, err
	}
	stats.ApproverThroughput = throughput
	return stats, nil
}

func (s *StatisticsService) approverThroughput(ctx context.Context, requests []ApprovalRequest, pending map[uuid.UUID]int) ([]ApproverStats, error) {
	byApprover := make(map[uuid.UUID]*ApproverStats)
	get := func(id uuid.UUID) *ApproverStats {
		st, ok := byApprover[id]
		if !ok {
			st = &ApproverStats{ApproverID: id}
			byApprover[id] = st
		}
		return st
	}
	for id, n := range pending {
		get(id).Pending = n
	}

	for _, req := range requests {
		actions, err := s.repo.ListActionsByRequest(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			// Skip entries carry no approver; they are the engine's own.
			if a.ApproverID == uuid.Nil {
				continue
			}
			st := get(a.ApproverID)
			switch a.ActionType {
			case ActionApprove, ActionComplete:
				st.Approved++
			case ActionReject:
				st.Rejected++
			case ActionReturn:
				st.Returned++
			case ActionDelegate:
				st.Delegated++
			}
		}
	}

	out := make([]ApproverStats, 0, len(byApprover))
	for _, st := range byApprover {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ApproverID.String() < out[j].ApproverID.String()
	})
	return out, nil
}
