package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/branch"
	"github.com/codeguardhq/codeguard/internal/ci"
	"github.com/codeguardhq/codeguard/internal/detect"
	"github.com/codeguardhq/codeguard/internal/fixagent"
	"github.com/codeguardhq/codeguard/internal/forge"
)

// fakeForge backs branch.Forge, ci.Forge, and PRForge for orchestrator tests.
// CI behavior is scripted as a sequence of conclusions, one per monitoring
// pass; the index advances when GetCombinedStatus is called.
type fakeForge struct {
	files       map[string][]byte
	refSHA      string
	fileGone    bool
	commitErr   error
	conclusions []string
	roundIdx    int
	annotations map[int64][]forge.CheckAnnotation

	commitMessages []string
	createdPRs     int
	prBodyUpdates  int
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		files:       make(map[string][]byte),
		refSHA:      "abc1234def5678",
		annotations: make(map[int64][]forge.CheckAnnotation),
	}
}

func (f *fakeForge) conclusion() string {
	if len(f.conclusions) == 0 {
		return "success"
	}
	if f.roundIdx >= len(f.conclusions) {
		return f.conclusions[len(f.conclusions)-1]
	}
	return f.conclusions[f.roundIdx]
}

// branch.Forge

func (f *fakeForge) GetRef(_ context.Context, ref string) (*forge.Ref, error) {
	return &forge.Ref{SHA: f.refSHA}, nil
}

func (f *fakeForge) CreateRef(context.Context, string, string) error       { return nil }
func (f *fakeForge) DeleteRef(context.Context, string) error               { return nil }
func (f *fakeForge) UpdateRef(context.Context, string, string, bool) error { return nil }

func (f *fakeForge) GetCommit(_ context.Context, sha string) (*forge.Commit, error) {
	return &forge.Commit{SHA: sha, TreeSHA: "tree"}, nil
}

func (f *fakeForge) CreateCommit(_ context.Context, treeSHA string, parents []string, _ string) (*forge.Commit, error) {
	return &forge.Commit{SHA: "newcommit", TreeSHA: treeSHA}, nil
}

func (f *fakeForge) CreateBlob(context.Context, []byte) (string, error) { return "blob", nil }

func (f *fakeForge) CreateTree(_ context.Context, _ string, _ []forge.BlobEntry) (string, error) {
	return "tree2", nil
}

func (f *fakeForge) CreateOrUpdateFile(_ context.Context, path string, content []byte, _, message, _ string) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.files[path] = content
	f.commitMessages = append(f.commitMessages, message)
	return "commit-" + path, nil
}

func (f *fakeForge) GetFileContent(_ context.Context, path, _ string) (*forge.FileContent, error) {
	if f.fileGone {
		return nil, &forge.Error{Kind: forge.KindNotFound, Op: "GetFileContent", StatusCode: 404, Err: errors.New("missing")}
	}
	content, ok := f.files[path]
	if !ok {
		return nil, &forge.Error{Kind: forge.KindNotFound, Op: "GetFileContent", StatusCode: 404, Err: errors.New("missing")}
	}
	return &forge.FileContent{Content: content, SHA: "filesha"}, nil
}

// ci.Forge

func (f *fakeForge) ListChecksForRef(context.Context, string) ([]forge.CheckRun, error) {
	if f.conclusions == nil {
		return nil, nil // no CI configured
	}
	return []forge.CheckRun{{
		ID: 1, Name: "build", Status: "completed", Conclusion: f.conclusion(),
	}}, nil
}

func (f *fakeForge) ListAnnotations(_ context.Context, checkID int64) ([]forge.CheckAnnotation, error) {
	return f.annotations[checkID], nil
}

func (f *fakeForge) GetCombinedStatus(context.Context, string) (*forge.CombinedStatus, error) {
	state := "success"
	if f.conclusion() == "failure" {
		state = "success" // failure attribution flows through check annotations
	}
	f.roundIdx++
	return &forge.CombinedStatus{
		State:    state,
		Statuses: []forge.StatusContext{{Context: "legacy", State: "success"}},
	}, nil
}

// PRForge

func (f *fakeForge) CreatePR(_ context.Context, _, _, _, _ string) (*forge.PullRequest, error) {
	f.createdPRs++
	return &forge.PullRequest{Number: 42, URL: "https://github.com/acme/widget/pull/42"}, nil
}

func (f *fakeForge) UpdatePRBody(context.Context, int, string) error {
	f.prBodyUpdates++
	return nil
}

func newTestOrchestrator(t *testing.T, session *Session, f *fakeForge) *Orchestrator {
	t.Helper()
	return NewOrchestrator(
		session,
		branch.NewManager(f),
		f,
		ci.NewAgent(f, time.Second, time.Millisecond),
		fixagent.New(nil),
		5,
		0,
		nil,
	)
}

func newTestSession(issues ...analyzer.Issue) *Session {
	s := NewSession("acme", "widget", "main", "PLATFORM_ALICE_AI_Fix", 7)
	s.Issues = issues
	s.InitialIssueCount = len(issues)
	return s
}

func TestOrchestrator_NoIssuesPasses(t *testing.T) {
	f := newFakeForge()
	session := newTestSession()

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	assert.Equal(t, StatusPassed, res.FinalCIStatus)
	assert.Zero(t, res.RetryCount)
	assert.Zero(t, f.createdPRs)
	assert.Empty(t, res.Fixes)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	f := newFakeForge()
	f.files["src/app.js"] = []byte("var count = 1\nconsole.log(count)\n")
	f.conclusions = []string{"success"}

	session := newTestSession(analyzer.Issue{
		File: "src/app.js", Line: 1, BugType: detect.BugLinting,
		Description: "var declaration", Severity: "WARNING", Source: "ast",
	})

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	assert.Equal(t, string(ci.StatusPassed), res.FinalCIStatus)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, 1, f.createdPRs)
	assert.Equal(t, 1, res.TotalFixesApplied)
	require.Len(t, res.CITimeline, 1)
	assert.Equal(t, 1, res.CITimeline[0].Iteration)
	assert.Equal(t, "abc1234", res.CITimeline[0].CommitSHA)

	require.Len(t, f.commitMessages, 1)
	assert.Contains(t, f.commitMessages[0], fixagent.CommitMarker)
	assert.Contains(t, string(f.files["src/app.js"]), "let count")

	// Final PR body refresh happens exactly once.
	assert.Equal(t, 1, f.prBodyUpdates)
	assert.Equal(t, "https://github.com/acme/widget/pull/42", res.PRURL)
}

func TestOrchestrator_NoCIRecordsSingleAttempt(t *testing.T) {
	f := newFakeForge()
	f.files["src/app.js"] = []byte("var count = 1\n")
	// conclusions stays nil: ListChecksForRef reports no check runs.

	session := newTestSession(analyzer.Issue{
		File: "src/app.js", Line: 1, BugType: detect.BugLinting,
	})

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	assert.Equal(t, StatusNoCI, res.FinalCIStatus)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, 1, f.createdPRs)
	require.Len(t, res.CITimeline, 1)
	assert.Equal(t, ci.StatusNoCI, res.CITimeline[0].Status)
}

func TestOrchestrator_RetryBudgetExhausted(t *testing.T) {
	f := newFakeForge()
	f.files["src/app.js"] = []byte("var a = 1\nobj.prop = 2\nvar c = 3\n")
	f.conclusions = []string{"failure"}
	f.annotations[1] = []forge.CheckAnnotation{{
		Path: "src/app.js", StartLine: 2, Message: "TypeError: undefined is not a function", Level: "failure",
	}}

	session := newTestSession(analyzer.Issue{
		File: "src/app.js", Line: 1, BugType: detect.BugLinting,
	})

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	assert.Equal(t, string(ci.StatusFailed), res.FinalCIStatus)
	assert.Equal(t, 5, res.RetryCount)
	require.Len(t, res.CITimeline, 5)
	for i, row := range res.CITimeline {
		assert.Equal(t, i+1, row.Iteration)
	}
	// The PR is opened once and reused across retries.
	assert.Equal(t, 1, f.createdPRs)

	// CI-derived issues replaced the working set.
	require.NotEmpty(t, res.Issues)
	assert.Equal(t, "ci", res.Issues[0].Source)
	assert.Equal(t, detect.BugTypeError, res.Issues[0].BugType)
}

func TestOrchestrator_NothingAppliedSkipsPR(t *testing.T) {
	f := newFakeForge()
	f.fileGone = true

	session := newTestSession(analyzer.Issue{
		File: "gone.js", Line: 3, BugType: detect.BugLogic,
	})

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	assert.Equal(t, StatusSkipped, res.FinalCIStatus)
	assert.Zero(t, f.createdPRs)
	assert.Zero(t, res.TotalFixesApplied)
	require.Len(t, res.Fixes, 1)
	assert.Equal(t, FixSkipped, res.Fixes[0].Status)
	assert.Equal(t, "file not found on branch", res.Fixes[0].Explanation)
}

func TestOrchestrator_CommitFailureDowngradesAllFixesForFile(t *testing.T) {
	f := newFakeForge()
	f.files["src/app.js"] = []byte("var a = 1\nvar b = 2\n")
	f.commitErr = errors.New("409 conflict")

	session := newTestSession(
		analyzer.Issue{File: "src/app.js", Line: 1, BugType: detect.BugLinting},
		analyzer.Issue{File: "src/app.js", Line: 2, BugType: detect.BugLinting},
	)

	res := newTestOrchestrator(t, session, f).Run(context.Background())

	// Both fixes were folded into one buffer that never landed, so neither
	// may stay applied and no PR may exist.
	require.Len(t, res.Fixes, 2)
	for _, fix := range res.Fixes {
		assert.Equal(t, FixCommitFailed, fix.Status)
	}
	assert.Zero(t, res.TotalFixesApplied)
	assert.Zero(t, f.createdPRs)
	assert.Equal(t, StatusSkipped, res.FinalCIStatus)
}

func TestOrchestrator_CancelledContextFails(t *testing.T) {
	f := newFakeForge()
	session := newTestSession(analyzer.Issue{File: "a.js", Line: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestOrchestrator(t, session, f).Run(ctx)
	assert.Equal(t, StatusFailed, res.FinalCIStatus)
}

func TestIssuesFromFailureLogs_SkipsUnattributed(t *testing.T) {
	logs := []ci.FailureLog{
		{Source: "build", Message: "check failed"},
		{Source: "lint", File: "x.py", Line: 4, Message: "unexpected indent"},
	}
	issues := issuesFromFailureLogs(logs)
	require.Len(t, issues, 1)
	assert.Equal(t, "x.py", issues[0].File)
	assert.Equal(t, detect.BugIndentation, issues[0].BugType)
	assert.Equal(t, "CRITICAL", issues[0].Severity)
}
