package heal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/codeguardhq/codeguard/internal/forge"
)

// Cloner makes shallow working copies of a repository's default branch.
type Cloner struct {
	tokens  forge.TokenSource
	workDir string
	timeout time.Duration
}

// NewCloner builds a Cloner. workDir may be empty to use the system temp
// directory.
func NewCloner(tokens forge.TokenSource, workDir string, timeout time.Duration) *Cloner {
	return &Cloner{tokens: tokens, workDir: workDir, timeout: timeout}
}

// Clone checks out owner/name at branch into a fresh directory. The returned
// cleanup removes the directory and must always be called.
func (c *Cloner) Clone(ctx context.Context, owner, name, branch string, installationID int64) (string, func(), error) {
	dir, err := os.MkdirTemp(c.workDir, "codeguard-heal-")
	if err != nil {
		return "", nil, fmt.Errorf("creating clone dir: %w", err)
	}
	cleanup := func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Warn("could not remove clone dir", "dir", dir, "error", rmErr)
		}
	}

	token, err := c.tokens.Token(ctx, installationID)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("getting clone token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	remote := fmt.Sprintf("https://github.com/%s/%s", owner, name)
	slog.Info("cloning repository", "repo", owner+"/"+name, "branch", branch, "dir", dir)

	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
		Auth: &githttp.BasicAuth{
			Username: "x-access-token",
			Password: token,
		},
	})
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("cloning %s: %w", remote, err)
	}
	return dir, cleanup, nil
}
