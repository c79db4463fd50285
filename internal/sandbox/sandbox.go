// Package sandbox runs a repository's native test command inside a locked
// down container. Every invocation gets a fresh container with hard resource
// caps; the source tree is mounted read-only and copied into a tmpfs before
// the tests run.
package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/codeguardhq/codeguard/internal/config"
	"github.com/codeguardhq/codeguard/internal/pathutil"
)

const srcMount = "/src"

// Result is the raw outcome of one containerised test run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Combined returns stdout and stderr concatenated, for the output parsers.
func (r Result) Combined() string {
	return r.Stdout + "\n" + r.Stderr
}

// Sandbox launches test containers via the docker CLI.
type Sandbox struct {
	cfg config.SandboxConfig
}

// New builds a Sandbox from configuration.
func New(cfg config.SandboxConfig) *Sandbox {
	return &Sandbox{cfg: cfg}
}

// Available reports whether the container runtime can be reached. Callers
// that fall back to direct execution must log that decision.
func (s *Sandbox) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := exec.CommandContext(ctx, s.cfg.DockerBinary, "info", "--format", "{{.ServerVersion}}").Run()
	return err == nil
}

// TestCommand returns the shell command that runs a project type's tests.
// The dependency-install step is the only phase that needs the network.
func TestCommand(projectType string) (string, error) {
	switch projectType {
	case "node":
		return "npm ci --no-audit --no-fund 2>/dev/null || npm install --no-audit --no-fund; npm test", nil
	case "python":
		return "[ -f requirements.txt ] && pip install -q -r requirements.txt; python -m pytest -x 2>/dev/null || python -m unittest discover", nil
	case "java":
		return "[ -f pom.xml ] && mvn -q test || ./gradlew test --console=plain", nil
	case "go":
		return "go test ./...", nil
	case "rust":
		return "cargo test", nil
	case "make":
		return "make test", nil
	default:
		return "", fmt.Errorf("no test command for project type %q", projectType)
	}
}

// RunTests copies the mounted source into the writable workdir and runs the
// project's test command. The container is force-killed on timeout and
// removed on any exit.
func (s *Sandbox) RunTests(ctx context.Context, repoPath, projectType string) (Result, error) {
	cmd, err := TestCommand(projectType)
	if err != nil {
		return Result{}, err
	}

	name := "codeguard-test-" + randomSuffix()
	timeout := s.cfg.ParseTimeout()

	args := []string{
		"run",
		"--name", name,
		"--rm",
		"--memory", fmt.Sprintf("%dm", s.cfg.MemoryMB),
		"--cpus", strconv.Itoa(s.cfg.CPUs),
		"--pids-limit", strconv.Itoa(s.cfg.PidsLimit),
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"-v", pathutil.ToPOSIX(repoPath) + ":" + srcMount + ":ro",
		"--tmpfs", "/work:rw,exec,size=256m",
		"--tmpfs", "/tmp:rw,exec",
		"-w", "/work",
	}
	if !s.cfg.AllowNetwork {
		args = append(args, "--network", "none")
	}
	args = append(args, s.cfg.Image, "sh", "-c", "cp -r "+srcMount+"/. /work/ && "+cmd)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	docker := exec.CommandContext(runCtx, s.cfg.DockerBinary, args...)
	docker.Stdout = &stdout
	docker.Stderr = &stderr

	slog.Info("starting sandboxed test run",
		"container", name, "project_type", projectType, "timeout", timeout)

	runErr := docker.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = -1
		s.forceRemove(name)
		slog.Warn("sandbox timed out, container killed", "container", name)
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// Test failures are data, not transport errors.
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		s.forceRemove(name)
		return res, fmt.Errorf("launching sandbox container: %w", runErr)
	}
	return res, nil
}

// forceRemove kills and removes a container, ignoring errors. Used when the
// CLI process died before --rm could take effect.
func (s *Sandbox) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, s.cfg.DockerBinary, "rm", "-f", name).Run()
}

func randomSuffix() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}
