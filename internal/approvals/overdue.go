package approvals

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OverdueMonitor reports in-flight requests whose current step's due date
// has elapsed. The scan is advisory: it never transitions state itself.
// Terminal expiry happens only through LifecycleService.Expire, which an
// administrator invokes explicitly.
type OverdueMonitor struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewOverdueMonitor(repo Repository, logger *zap.Logger) *OverdueMonitor {
	return &OverdueMonitor{repo: repo, logger: logger, now: time.Now}
}

// Scan returns every InProgress request past its due date and logs a
// warning per hit so operators see the backlog without polling the API.
func (m *OverdueMonitor) Scan(ctx context.Context) ([]ApprovalRequest, error) {
	now := m.now()
	overdue, err := m.repo.ListRequests(ctx, RequestFilter{OverdueAt: &now})
	if err != nil {
		return nil, err
	}
	for i := range overdue {
		m.logger.Warn("approval request overdue",
			zap.String("request_id", overdue[i].ID.String()),
			zap.Int("step", overdue[i].CurrentStepOrder),
			zap.Timep("due_date", overdue[i].CurrentStepDueDate))
	}
	return overdue, nil
}

// OverdueRequests is the pure read used for reporting.
func (m *OverdueMonitor) OverdueRequests(ctx context.Context) ([]ApprovalRequest, error) {
	now := m.now()
	return m.repo.ListRequests(ctx, RequestFilter{OverdueAt: &now})
}
