package approvals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepository is an in-memory Repository. It carries the same
// version-guard semantics as the Postgres implementation so the state
// machine behaves identically in embedded mode and under test.
type memoryRepository struct {
	workflows map[uuid.UUID]ApprovalWorkflow
	requests  map[uuid.UUID]ApprovalRequest
	actions   []ApprovalAction
	mu        sync.RWMutex
}

func NewMemoryRepository() Repository {
	return &memoryRepository{
		workflows: make(map[uuid.UUID]ApprovalWorkflow),
		requests:  make(map[uuid.UUID]ApprovalRequest),
	}
}

func (m *memoryRepository) CreateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

func (m *memoryRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*ApprovalWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	out := cloneWorkflow(&wf)
	return &out, nil
}

func (m *memoryRepository) ListWorkflows(ctx context.Context, activeOnly bool) ([]ApprovalWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var wfs []ApprovalWorkflow
	for _, wf := range m.workflows {
		if activeOnly && !wf.IsActive {
			continue
		}
		wfs = append(wfs, cloneWorkflow(&wf))
	}
	sort.Slice(wfs, func(i, j int) bool {
		if wfs[i].Priority != wfs[j].Priority {
			return wfs[i].Priority < wfs[j].Priority
		}
		return wfs[i].Name < wfs[j].Name
	})
	return wfs, nil
}

func (m *memoryRepository) UpdateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.workflows[wf.ID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
	}
	updated := cloneWorkflow(wf)
	updated.Steps = existing.Steps
	m.workflows[wf.ID] = updated
	return nil
}

func (m *memoryRepository) ReplaceSteps(ctx context.Context, workflowID uuid.UUID, steps []ApprovalStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	wf.Steps = append([]ApprovalStep(nil), steps...)
	m.workflows[workflowID] = wf
	return nil
}

func (m *memoryRepository) CountActiveRequestsFromStep(ctx context.Context, workflowID uuid.UUID, minStepOrder int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, req := range m.requests {
		if req.WorkflowID == workflowID && req.CurrentStepOrder >= minStepOrder && !req.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) CreateRequest(ctx context.Context, req *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = *req
	return nil
}

func (m *memoryRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *memoryRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var reqs []ApprovalRequest
	for _, req := range m.requests {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.WorkflowID != nil && req.WorkflowID != *filter.WorkflowID {
			continue
		}
		if filter.EntityType != "" && req.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && req.EntityID != filter.EntityID {
			continue
		}
		if filter.ApproverID != nil {
			if req.CurrentApproverID == nil || *req.CurrentApproverID != *filter.ApproverID {
				continue
			}
		}
		if filter.OverdueAt != nil && !req.IsOverdue(*filter.OverdueAt) {
			continue
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func (m *memoryRepository) ApplyTransition(ctx context.Context, req *ApprovalRequest, actions ...*ApprovalAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok {
		return fmt.Errorf("request %s: %w", req.ID, ErrNotFound)
	}
	if stored.Version != req.Version {
		return fmt.Errorf("request %s version %d: %w", req.ID, req.Version, ErrConcurrentModification)
	}
	req.Version++
	req.UpdatedAt = time.Now()
	m.requests[req.ID] = *req
	for _, action := range actions {
		m.actions = append(m.actions, *action)
	}
	return nil
}

func (m *memoryRepository) ListActionsByRequest(ctx context.Context, requestID uuid.UUID) ([]ApprovalAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var actions []ApprovalAction
	for _, a := range m.actions {
		if a.RequestID == requestID {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ActionDate.Before(actions[j].ActionDate)
	})
	return actions, nil
}

func (m *memoryRepository) ListActionsByApprover(ctx context.Context, approverID uuid.UUID) ([]ApprovalAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var actions []ApprovalAction
	for _, a := range m.actions {
		if a.ApproverID == approverID {
			actions = append(actions, a)
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ActionDate.After(actions[j].ActionDate)
	})
	return actions, nil
}

func cloneWorkflow(wf *ApprovalWorkflow) ApprovalWorkflow {
	out := *wf
	out.Steps = append([]ApprovalStep(nil), wf.Steps...)
	return out
}
