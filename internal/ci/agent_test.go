package ci

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeguardhq/codeguard/internal/forge"
)

// mockForge scripts the check and status responses for agent tests.
type mockForge struct {
	checks      []forge.CheckRun
	statuses    []forge.StatusContext
	annotations map[int64][]forge.CheckAnnotation

	// settleAfter makes the first N polls report an in-progress check.
	settleAfter int
	polls       int
}

func (m *mockForge) ListChecksForRef(context.Context, string) ([]forge.CheckRun, error) {
	if m.polls < m.settleAfter {
		return []forge.CheckRun{{ID: 1, Name: "build", Status: "in_progress"}}, nil
	}
	return m.checks, nil
}

func (m *mockForge) ListAnnotations(_ context.Context, checkID int64) ([]forge.CheckAnnotation, error) {
	return m.annotations[checkID], nil
}

func (m *mockForge) GetCombinedStatus(context.Context, string) (*forge.CombinedStatus, error) {
	m.polls++
	return &forge.CombinedStatus{Statuses: m.statuses}, nil
}

func passingStatuses() []forge.StatusContext {
	return []forge.StatusContext{{Context: "legacy-ci", State: "success"}}
}

func TestHasCIConfigured(t *testing.T) {
	agent := NewAgent(&mockForge{}, time.Second, time.Millisecond)
	ok, err := agent.HasCIConfigured(context.Background(), "sha")
	require.NoError(t, err)
	assert.False(t, ok)

	agent = NewAgent(&mockForge{
		checks: []forge.CheckRun{{ID: 1, Name: "build", Status: "queued"}},
	}, time.Second, time.Millisecond)
	ok, err = agent.HasCIConfigured(context.Background(), "sha")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForChecks_Passed(t *testing.T) {
	agent := NewAgent(&mockForge{
		checks:   []forge.CheckRun{{ID: 1, Name: "build", Status: "completed", Conclusion: "success"}},
		statuses: passingStatuses(),
	}, time.Second, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Empty(t, res.FailureLogs)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, "success", res.Checks[0].Status)
}

func TestWaitForChecks_SettlesAfterPolling(t *testing.T) {
	agent := NewAgent(&mockForge{
		checks:      []forge.CheckRun{{ID: 1, Name: "build", Status: "completed", Conclusion: "success"}},
		statuses:    passingStatuses(),
		settleAfter: 2,
	}, time.Second, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, res.Status)
}

func TestWaitForChecks_FailureWithAnnotations(t *testing.T) {
	agent := NewAgent(&mockForge{
		checks: []forge.CheckRun{{ID: 7, Name: "lint", Status: "completed", Conclusion: "failure"}},
		annotations: map[int64][]forge.CheckAnnotation{
			7: {{Path: "src/app.py", StartLine: 12, Message: "unexpected indent", Level: "failure"}},
		},
		statuses: passingStatuses(),
	}, time.Second, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.FailureLogs, 1)
	assert.Equal(t, "src/app.py", res.FailureLogs[0].File)
	assert.Equal(t, 12, res.FailureLogs[0].Line)
	assert.Equal(t, "lint", res.FailureLogs[0].Source)
}

func TestWaitForChecks_FailureWithoutAnnotationsUsesSummary(t *testing.T) {
	agent := NewAgent(&mockForge{
		checks: []forge.CheckRun{{
			ID: 1, Name: "build", Status: "completed", Conclusion: "timed_out", Summary: "job exceeded limit",
		}},
		statuses: passingStatuses(),
	}, time.Second, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.FailureLogs, 1)
	assert.Empty(t, res.FailureLogs[0].File)
	assert.Equal(t, "job exceeded limit", res.FailureLogs[0].Message)
}

func TestWaitForChecks_FailedStatusContext(t *testing.T) {
	agent := NewAgent(&mockForge{
		checks: []forge.CheckRun{{ID: 1, Name: "build", Status: "completed", Conclusion: "success"}},
		statuses: []forge.StatusContext{
			{Context: "deploy-preview", State: "error", Description: "bundle too large"},
		},
	}, time.Second, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.FailureLogs, 1)
	assert.Equal(t, "deploy-preview", res.FailureLogs[0].Source)
	assert.Equal(t, "bundle too large", res.FailureLogs[0].Message)
}

func TestWaitForChecks_Timeout(t *testing.T) {
	// The check never settles; a zero wait bound trips the timeout on the
	// first unsettled poll.
	agent := NewAgent(&mockForge{settleAfter: 1 << 30}, 0, time.Millisecond)

	res, err := agent.WaitForChecks(context.Background(), "sha")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.FailureLogs, 1)
	assert.Equal(t, "timeout", res.FailureLogs[0].Source)
}

func TestWaitForChecks_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := NewAgent(&mockForge{settleAfter: 1 << 30}, time.Minute, 50*time.Millisecond)
	_, err := agent.WaitForChecks(ctx, "sha")
	assert.Error(t, err)
}
