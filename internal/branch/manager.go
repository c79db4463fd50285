// Package branch creates and advances the healing branch through the forge's
// ref, blob, and tree APIs.
package branch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeguardhq/codeguard/internal/forge"
)

// Forge is the subset of forge operations branch management needs.
// *forge.Client satisfies it.
type Forge interface {
	GetRef(ctx context.Context, ref string) (*forge.Ref, error)
	CreateRef(ctx context.Context, ref, sha string) error
	DeleteRef(ctx context.Context, ref string) error
	UpdateRef(ctx context.Context, ref, sha string, force bool) error
	GetCommit(ctx context.Context, sha string) (*forge.Commit, error)
	CreateCommit(ctx context.Context, treeSHA string, parents []string, message string) (*forge.Commit, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []forge.BlobEntry) (string, error)
	CreateOrUpdateFile(ctx context.Context, path string, content []byte, branch, message, priorSHA string) (string, error)
	GetFileContent(ctx context.Context, path, ref string) (*forge.FileContent, error)
}

// File pairs a repo-relative path with replacement content for a batch
// commit.
type File struct {
	Path    string
	Content []byte
}

// Manager drives the healing branch. After any commit call, heads/<branch>
// points at the returned sha.
type Manager struct {
	forge Forge
}

// NewManager builds a Manager over a forge client.
func NewManager(f Forge) *Manager {
	return &Manager{forge: f}
}

// CreateBranch points heads/name at the tip of base, deleting a stale branch
// of the same name first. Returns the base sha.
func (m *Manager) CreateBranch(ctx context.Context, name, base string) (string, error) {
	baseRef, err := m.forge.GetRef(ctx, "heads/"+base)
	if err != nil {
		return "", fmt.Errorf("resolving base branch %s: %w", base, err)
	}

	if _, err := m.forge.GetRef(ctx, "heads/"+name); err == nil {
		slog.Info("healing branch already exists, resetting", "branch", name)
		if err := m.forge.DeleteRef(ctx, "heads/"+name); err != nil {
			return "", fmt.Errorf("deleting stale branch %s: %w", name, err)
		}
	} else if !forge.IsNotFound(err) {
		return "", fmt.Errorf("checking branch %s: %w", name, err)
	}

	if err := m.forge.CreateRef(ctx, "heads/"+name, baseRef.SHA); err != nil {
		return "", fmt.Errorf("creating branch %s: %w", name, err)
	}
	return baseRef.SHA, nil
}

// CommitFile commits one file to branch through the contents API and returns
// the new commit sha.
func (m *Manager) CommitFile(ctx context.Context, branchName, path string, content []byte, message string) (string, error) {
	var priorSHA string
	existing, err := m.forge.GetFileContent(ctx, path, branchName)
	switch {
	case err == nil:
		priorSHA = existing.SHA
	case forge.IsNotFound(err):
		// New file; no prior blob sha.
	default:
		return "", fmt.Errorf("reading %s on %s: %w", path, branchName, err)
	}

	sha, err := m.forge.CreateOrUpdateFile(ctx, path, content, branchName, message, priorSHA)
	if err != nil {
		return "", fmt.Errorf("committing %s to %s: %w", path, branchName, err)
	}
	return sha, nil
}

// CommitMultipleFiles commits a batch of files as a single commit: one blob
// per file, a tree on top of the branch tip's tree, a commit with the tip as
// parent, then a fast-forward of the ref.
func (m *Manager) CommitMultipleFiles(ctx context.Context, branchName string, files []File, message string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to commit")
	}

	tipRef, err := m.forge.GetRef(ctx, "heads/"+branchName)
	if err != nil {
		return "", fmt.Errorf("resolving branch %s: %w", branchName, err)
	}
	tip, err := m.forge.GetCommit(ctx, tipRef.SHA)
	if err != nil {
		return "", fmt.Errorf("reading tip commit %s: %w", short(tipRef.SHA), err)
	}

	entries := make([]forge.BlobEntry, 0, len(files))
	for _, f := range files {
		blobSHA, err := m.forge.CreateBlob(ctx, f.Content)
		if err != nil {
			return "", fmt.Errorf("uploading blob for %s: %w", f.Path, err)
		}
		entries = append(entries, forge.BlobEntry{Path: f.Path, SHA: blobSHA})
	}

	treeSHA, err := m.forge.CreateTree(ctx, tip.TreeSHA, entries)
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", err)
	}
	commit, err := m.forge.CreateCommit(ctx, treeSHA, []string{tip.SHA}, message)
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", err)
	}
	if err := m.forge.UpdateRef(ctx, "heads/"+branchName, commit.SHA, false); err != nil {
		return "", fmt.Errorf("advancing %s to %s: %w", branchName, short(commit.SHA), err)
	}
	return commit.SHA, nil
}

// LatestCommitSHA resolves the branch tip.
func (m *Manager) LatestCommitSHA(ctx context.Context, branchName string) (string, error) {
	ref, err := m.forge.GetRef(ctx, "heads/"+branchName)
	if err != nil {
		return "", err
	}
	return ref.SHA, nil
}

// FileContent fetches a file's bytes at the branch tip.
func (m *Manager) FileContent(ctx context.Context, path, branchName string) ([]byte, error) {
	fc, err := m.forge.GetFileContent(ctx, path, branchName)
	if err != nil {
		return nil, err
	}
	return fc.Content, nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
