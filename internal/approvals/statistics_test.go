package approvals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatistics(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	stats := NewStatisticsService(f.repo)
	stats.now = f.clock.Now

	// One approved, one rejected, one still waiting on step 1.
	req1 := f.createAndStart(t)
	var err error
	req1, err = f.svc.ProcessAction(ctx, req1.ID, f.deptHead, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	req1, err = f.svc.ProcessAction(ctx, req1.ID, f.contracts, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)
	_, err = f.svc.ProcessAction(ctx, req1.ID, f.general, &ActionInput{ActionType: ActionApprove})
	require.NoError(t, err)

	req2 := f.createAndStart(t)
	_, err = f.svc.ProcessAction(ctx, req2.ID, f.deptHead, &ActionInput{ActionType: ActionReject, Comments: "incomplete"})
	require.NoError(t, err)

	f.createAndStart(t)

	result, err := stats.Compute(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalRequests)
	assert.Equal(t, 1, result.ByStatus[StatusApproved])
	assert.Equal(t, 1, result.ByStatus[StatusRejected])
	assert.Equal(t, 1, result.ByStatus[StatusInProgress])
	assert.Equal(t, 3, result.ByWorkflowType[TypeTenderApproval])
	assert.Equal(t, 0, result.OverdueCount)
	assert.Greater(t, result.AvgCompletionSeconds, 0.0)

	byID := make(map[string]ApproverStats)
	for _, st := range result.ApproverThroughput {
		byID[st.ApproverID.String()] = st
	}
	head := byID[f.deptHead.String()]
	assert.Equal(t, 1, head.Approved)
	assert.Equal(t, 1, head.Rejected)
	assert.Equal(t, 1, head.Pending)
	assert.Equal(t, 1, byID[f.general.String()].Approved)
}

func TestComputeOverdueCount(t *testing.T) {
	f := newLifecycleFixture(t)
	stats := NewStatisticsService(f.repo)
	stats.now = f.clock.Now

	f.createAndStart(t)

	// Jump past the first step's 3 day limit.
	f.clock.mu.Lock()
	f.clock.t = f.clock.t.AddDate(0, 0, 4)
	f.clock.mu.Unlock()

	result, err := stats.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueCount)
}
