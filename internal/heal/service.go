package heal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/codeguardhq/codeguard/internal/analyzer"
	"github.com/codeguardhq/codeguard/internal/branch"
	"github.com/codeguardhq/codeguard/internal/ci"
	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/detect"
	"github.com/codeguardhq/codeguard/internal/fixagent"
	"github.com/codeguardhq/codeguard/internal/forge"
	"github.com/codeguardhq/codeguard/internal/forge/auth"
	"github.com/codeguardhq/codeguard/internal/testrun"
)

// Request is a heal invocation as received from the HTTP surface.
type Request struct {
	RepoURL    string `json:"repo_url"`
	TeamName   string `json:"team_name"`
	LeaderName string `json:"leader_name"`
}

// Validate checks required fields and that the URL points at the forge.
func (r Request) Validate() error {
	if r.RepoURL == "" || r.TeamName == "" || r.LeaderName == "" {
		return fmt.Errorf("repo_url, team_name, and leader_name are required")
	}
	_, _, err := ParseRepoURL(r.RepoURL)
	return err
}

// ParseRepoURL extracts owner and repository name from a forge URL.
func ParseRepoURL(raw string) (owner, name string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL: %w", err)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return "", "", fmt.Errorf("repository URL must point at github.com, got %q", u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository URL must be of the form https://github.com/<owner>/<repo>")
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Service runs heal sessions end to end and records their results.
type Service struct {
	cfg      *config.Config
	broker   *auth.Broker
	cloner   *Cloner
	runner   *testrun.Runner
	analyzer *analyzer.Analyzer
	fixer    *fixagent.Agent
	results  *ResultStore
	lockDir  string
}

// NewService wires a heal Service. llm may be nil, which makes every fix
// rule-based.
func NewService(cfg *config.Config, broker *auth.Broker, runner *testrun.Runner, an *analyzer.Analyzer, llm fixagent.Proposer, results *ResultStore) *Service {
	workDir := cfg.Heal.WorkspaceDir
	lockDir := workDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}
	return &Service{
		cfg:      cfg,
		broker:   broker,
		cloner:   NewCloner(broker, workDir, cfg.Heal.ParseCloneTimeout()),
		runner:   runner,
		analyzer: an,
		fixer:    fixagent.New(llm),
		results:  results,
		lockDir:  lockDir,
	}
}

// Results exposes the result store for the HTTP surface.
func (s *Service) Results() *ResultStore {
	return s.results
}

// Heal runs one full session. Progress flows through emit; the final Result
// is both returned and persisted in the result store.
func (s *Service) Heal(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	owner, name, err := ParseRepoURL(req.RepoURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Heal.ParseTotalTimeout())
	defer cancel()

	// One heal per repository at a time, across processes sharing the
	// workspace.
	repoLock := flock.New(filepath.Join(s.lockDir, "codeguard-"+owner+"-"+name+".lock"))
	locked, err := repoLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring repo lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("a heal for %s/%s is already in progress", owner, name)
	}
	defer repoLock.Unlock()

	installationID := s.discoverInstallation(ctx, owner, name)
	fc := forge.NewClient(s.broker, owner, name, installationID)

	repo, err := fc.GetRepo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading repository metadata: %w", err)
	}
	defaultBranch := repo.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	session := NewSession(owner, name, defaultBranch, BranchName(req.TeamName, req.LeaderName), installationID)
	emitStage(emit, "start", fmt.Sprintf("healing %s/%s on branch %s", owner, name, session.AIBranch))

	issues, err := s.collectIssues(ctx, session, owner, name, defaultBranch, installationID, emit)
	if err != nil {
		session.CIStatus = StatusFailed
		return session.Summary(), err
	}
	session.Issues = issues
	session.InitialIssueCount = len(issues)

	branches := branch.NewManager(fc)
	if len(issues) > 0 {
		emitStage(emit, "branch", "creating healing branch "+session.AIBranch)
		if _, err := branches.CreateBranch(ctx, session.AIBranch, defaultBranch); err != nil {
			session.CIStatus = StatusFailed
			return session.Summary(), fmt.Errorf("creating healing branch: %w", err)
		}
	}

	ciAgent := ci.NewAgent(fc, s.cfg.Heal.ParseCIWait(), s.cfg.Heal.ParseCIPoll())
	orch := NewOrchestrator(session, branches, fc, ciAgent, s.fixer,
		s.cfg.Heal.MaxRetries, s.cfg.Heal.ParseRetryPause(), emit)

	result := orch.Run(ctx)
	id := s.results.Put("", result)
	slog.Info("heal finished",
		"repo", owner+"/"+name, "status", result.FinalCIStatus,
		"fixes", result.TotalFixesApplied, "result_id", id)
	return result, nil
}

// collectIssues clones the repo, runs its tests, and analyzes the tree. A
// sandbox failure degrades to a single synthetic issue so the loop still
// makes forward progress.
func (s *Service) collectIssues(ctx context.Context, session *Session, owner, name, defaultBranch string, installationID int64, emit EmitFunc) ([]analyzer.Issue, error) {
	emitStage(emit, "clone", "cloning repository")
	dir, cleanup, err := s.cloner.Clone(ctx, owner, name, defaultBranch, installationID)
	if err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}
	defer cleanup()

	var issues []analyzer.Issue

	emitStage(emit, "tests", "running test suite")
	tres, err := s.runner.Run(ctx, dir)
	switch {
	case err != nil:
		slog.Warn("test run failed, recording synthetic failure", "error", err)
		issues = append(issues, analyzer.Issue{
			BugType:     detect.BugLogic,
			Description: "test execution failed: " + err.Error(),
			Severity:    "CRITICAL",
			Source:      "test",
		})
	case tres.TimedOut:
		issues = append(issues, analyzer.Issue{
			BugType:     detect.BugLogic,
			Description: "test execution timed out",
			Severity:    "CRITICAL",
			Source:      "test",
		})
	default:
		for _, f := range tres.Failures {
			issues = append(issues, analyzer.FromTestFailure(f))
		}
		session.Log(fmt.Sprintf("tests: project=%s files=%d failures=%d",
			tres.ProjectType, len(tres.TestFiles), len(tres.Failures)))
	}

	emitStage(emit, "static_analysis", "analyzing repository")
	found, err := s.analyzer.Analyze(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("analyzing repository: %w", err)
	}
	return append(issues, found...), nil
}

func (s *Service) discoverInstallation(ctx context.Context, owner, name string) int64 {
	appClient := s.broker.AppClient()
	if appClient == nil {
		return 0
	}
	id, err := forge.ListInstallation(ctx, appClient, owner, name)
	if err != nil {
		slog.Warn("installation discovery failed, using fallback token",
			"repo", owner+"/"+name, "error", err)
		return 0
	}
	return id
}

func emitStage(emit EmitFunc, stage, message string) {
	emit(Event{Stage: stage, Timestamp: time.Now(), Message: message})
}
