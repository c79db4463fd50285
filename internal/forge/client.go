// Package forge is a thin typed wrapper over the GitHub REST surface exposing
// exactly the operations the analysis and healing paths need. Every call
// attaches an installation token from the credential broker; transient
// failures retry with exponential backoff and 4xx responses surface as typed
// errors.
package forge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
)

// TokenSource supplies bearer tokens scoped to an installation.
type TokenSource interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

const (
	maxRetries  = 3
	backoffBase = 250 * time.Millisecond
)

// Client is a typed GitHub client bound to one repository and installation.
type Client struct {
	gh             *gh.Client
	owner          string
	repo           string
	installationID int64
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at an alternate API endpoint. Used in tests.
func WithBaseURL(rawURL string) Option {
	return func(c *Client) {
		u := rawURL
		if u[len(u)-1] != '/' {
			u += "/"
		}
		base, _ := c.gh.BaseURL.Parse(u)
		c.gh.BaseURL = base
	}
}

// NewClient builds a Client for owner/repo whose requests authenticate with
// tokens minted for installationID. Uses go-github-ratelimit middleware for
// automatic rate limit handling.
func NewClient(tokens TokenSource, owner, repo string, installationID int64, opts ...Option) *Client {
	tr := &tokenTransport{
		base:           http.DefaultTransport,
		tokens:         tokens,
		installationID: installationID,
	}
	httpClient := github_ratelimit.NewClient(tr)

	c := &Client{
		gh:             gh.NewClient(httpClient),
		owner:          owner,
		repo:           repo,
		installationID: installationID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the bound repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the bound repository name.
func (c *Client) Repo() string { return c.repo }

// tokenTransport injects a broker token into every request, so token refresh
// happens transparently mid-flight.
type tokenTransport struct {
	base           http.RoundTripper
	tokens         TokenSource
	installationID int64
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.Token(req.Context(), t.installationID)
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(clone)
}

// call runs fn with bounded retries. 5xx and transport errors retry with
// exponential backoff; 4xx map to typed errors immediately.
func (c *Client) call(ctx context.Context, op string, fn func() (*gh.Response, error)) error {
	backoff := backoffBase
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		lastStatus = 0
		if resp != nil {
			lastStatus = resp.StatusCode
		}

		if kind, retryable := classifyStatus(lastStatus); !retryable {
			return &Error{Kind: kind, Op: op, StatusCode: lastStatus, Err: err}
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return &Error{Kind: KindUpstream, Op: op, StatusCode: lastStatus, Err: lastErr}
}

// classifyStatus maps an HTTP status to an error kind and retryability.
// Status zero means a transport failure, which is retryable.
func classifyStatus(status int) (Kind, bool) {
	switch {
	case status == 0:
		return KindUpstream, true
	case status == http.StatusUnauthorized:
		return KindUnauthorized, false
	case status == http.StatusForbidden:
		return KindForbidden, false
	case status == http.StatusNotFound:
		return KindNotFound, false
	case status == http.StatusConflict:
		return KindConflict, false
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return KindValidation, false
	case status >= 500:
		return KindUpstream, true
	default:
		return KindValidation, false
	}
}

// ListInstallation resolves the App installation id covering this repository.
// Requires an App-authenticated client; appClient may not be nil.
func ListInstallation(ctx context.Context, appClient *gh.Client, owner, repo string) (int64, error) {
	if appClient == nil {
		return 0, errors.New("app credentials not configured")
	}
	inst, resp, err := appClient.Apps.FindRepositoryInstallation(ctx, owner, repo)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		kind, _ := classifyStatus(status)
		return 0, &Error{Kind: kind, Op: "forge.ListInstallation", StatusCode: status, Err: err}
	}
	return inst.GetID(), nil
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context) (*Repo, error) {
	var out *Repo
	err := c.call(ctx, "forge.GetRepo", func() (*gh.Response, error) {
		r, resp, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
		if err == nil {
			out = &Repo{ID: r.GetID(), DefaultBranch: r.GetDefaultBranch()}
		}
		return resp, err
	})
	return out, err
}

// ListPRFiles lists the changed files of a pull request, following pagination.
func (c *Client) ListPRFiles(ctx context.Context, number int) ([]PRFile, error) {
	var files []PRFile
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var page []*gh.CommitFile
		var next int
		err := c.call(ctx, "forge.ListPRFiles", func() (*gh.Response, error) {
			fs, resp, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
			if err == nil {
				page = fs
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range page {
			files = append(files, PRFile{Filename: f.GetFilename(), Status: f.GetStatus()})
		}
		if next == 0 {
			return files, nil
		}
		opts.Page = next
	}
}

// GetFileContent fetches a file's raw bytes and blob sha at the given ref.
func (c *Client) GetFileContent(ctx context.Context, path, ref string) (*FileContent, error) {
	var out *FileContent
	err := c.call(ctx, "forge.GetFileContent", func() (*gh.Response, error) {
		fc, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path,
			&gh.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return resp, err
		}
		if fc == nil {
			return resp, fmt.Errorf("%s is not a file", path)
		}
		content, cerr := fc.GetContent()
		if cerr != nil {
			return resp, fmt.Errorf("decoding %s: %w", path, cerr)
		}
		out = &FileContent{Content: []byte(content), SHA: fc.GetSHA()}
		return resp, nil
	})
	return out, err
}

// GetRef resolves a reference like "heads/main" to its sha.
func (c *Client) GetRef(ctx context.Context, ref string) (*Ref, error) {
	var out *Ref
	err := c.call(ctx, "forge.GetRef", func() (*gh.Response, error) {
		r, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, ref)
		if err == nil {
			out = &Ref{SHA: r.GetObject().GetSHA()}
		}
		return resp, err
	})
	return out, err
}

// CreateRef creates a reference pointing at sha.
func (c *Client) CreateRef(ctx context.Context, ref, sha string) error {
	return c.call(ctx, "forge.CreateRef", func() (*gh.Response, error) {
		_, resp, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, gh.CreateRef{
			Ref: "refs/" + ref,
			SHA: sha,
		})
		return resp, err
	})
}

// DeleteRef deletes a reference.
func (c *Client) DeleteRef(ctx context.Context, ref string) error {
	return c.call(ctx, "forge.DeleteRef", func() (*gh.Response, error) {
		resp, err := c.gh.Git.DeleteRef(ctx, c.owner, c.repo, ref)
		return resp, err
	})
}

// UpdateRef fast-forwards (or force-moves) a reference to sha.
func (c *Client) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	return c.call(ctx, "forge.UpdateRef", func() (*gh.Response, error) {
		_, resp, err := c.gh.Git.UpdateRef(ctx, c.owner, c.repo, ref, gh.UpdateRef{
			SHA:   sha,
			Force: gh.Ptr(force),
		})
		return resp, err
	})
}

// GetCommit fetches a commit's tree sha.
func (c *Client) GetCommit(ctx context.Context, sha string) (*Commit, error) {
	var out *Commit
	err := c.call(ctx, "forge.GetCommit", func() (*gh.Response, error) {
		cm, resp, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, sha)
		if err == nil {
			out = &Commit{SHA: cm.GetSHA(), TreeSHA: cm.GetTree().GetSHA()}
		}
		return resp, err
	})
	return out, err
}

// CreateCommit creates a commit object for tree with the given parents.
func (c *Client) CreateCommit(ctx context.Context, treeSHA string, parents []string, message string) (*Commit, error) {
	parentCommits := make([]*gh.Commit, 0, len(parents))
	for _, p := range parents {
		parentCommits = append(parentCommits, &gh.Commit{SHA: gh.Ptr(p)})
	}
	var out *Commit
	err := c.call(ctx, "forge.CreateCommit", func() (*gh.Response, error) {
		cm, resp, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, gh.Commit{
			Message: gh.Ptr(message),
			Tree:    &gh.Tree{SHA: gh.Ptr(treeSHA)},
			Parents: parentCommits,
		}, nil)
		if err == nil {
			out = &Commit{SHA: cm.GetSHA(), TreeSHA: treeSHA}
		}
		return resp, err
	})
	return out, err
}

// CreateBlob uploads a blob and returns its sha.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	var sha string
	err := c.call(ctx, "forge.CreateBlob", func() (*gh.Response, error) {
		b, resp, err := c.gh.Git.CreateBlob(ctx, c.owner, c.repo, gh.Blob{
			Content:  gh.Ptr(base64.StdEncoding.EncodeToString(content)),
			Encoding: gh.Ptr("base64"),
		})
		if err == nil {
			sha = b.GetSHA()
		}
		return resp, err
	})
	return sha, err
}

// BlobEntry pairs a path with an uploaded blob sha for tree creation.
type BlobEntry struct {
	Path string
	SHA  string
}

// CreateTree creates a tree on top of baseTree with the given blob entries.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []BlobEntry) (string, error) {
	treeEntries := make([]*gh.TreeEntry, 0, len(entries))
	for _, e := range entries {
		treeEntries = append(treeEntries, &gh.TreeEntry{
			Path: gh.Ptr(e.Path),
			Mode: gh.Ptr("100644"),
			Type: gh.Ptr("blob"),
			SHA:  gh.Ptr(e.SHA),
		})
	}
	var sha string
	err := c.call(ctx, "forge.CreateTree", func() (*gh.Response, error) {
		t, resp, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, baseTree, treeEntries)
		if err == nil {
			sha = t.GetSHA()
		}
		return resp, err
	})
	return sha, err
}

// CreateOrUpdateFile commits a single file through the contents API.
// priorSHA must be the existing blob sha when updating, empty when creating.
// Returns the new commit sha.
func (c *Client) CreateOrUpdateFile(ctx context.Context, path string, content []byte, branch, message, priorSHA string) (string, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: content,
		Branch:  gh.Ptr(branch),
	}
	if priorSHA != "" {
		opts.SHA = gh.Ptr(priorSHA)
	}
	var sha string
	err := c.call(ctx, "forge.CreateOrUpdateFile", func() (*gh.Response, error) {
		rc, resp, err := c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
		if err == nil {
			// RepositoryContentResponse embeds the commit directly.
			sha = rc.GetSHA()
		}
		return resp, err
	})
	return sha, err
}

// CreateCommitStatus sets a commit status. targetURL may be empty.
func (c *Client) CreateCommitStatus(ctx context.Context, sha, state, description, statusContext, targetURL string) error {
	status := gh.RepoStatus{
		State:       gh.Ptr(state),
		Description: gh.Ptr(description),
		Context:     gh.Ptr(statusContext),
	}
	if targetURL != "" {
		status.TargetURL = gh.Ptr(targetURL)
	}
	return c.call(ctx, "forge.CreateCommitStatus", func() (*gh.Response, error) {
		_, resp, err := c.gh.Repositories.CreateStatus(ctx, c.owner, c.repo, sha, status)
		return resp, err
	})
}

// CreatePR opens a pull request from head to base.
func (c *Client) CreatePR(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	var out *PullRequest
	err := c.call(ctx, "forge.CreatePR", func() (*gh.Response, error) {
		pr, resp, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
			Title: gh.Ptr(title),
			Head:  gh.Ptr(head),
			Base:  gh.Ptr(base),
			Body:  gh.Ptr(body),
		})
		if err == nil {
			out = &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}
		}
		return resp, err
	})
	return out, err
}

// UpdatePRBody replaces a pull request's body.
func (c *Client) UpdatePRBody(ctx context.Context, number int, body string) error {
	return c.call(ctx, "forge.UpdatePRBody", func() (*gh.Response, error) {
		_, resp, err := c.gh.PullRequests.Edit(ctx, c.owner, c.repo, number, &gh.PullRequest{
			Body: gh.Ptr(body),
		})
		return resp, err
	})
}

// CreateReview posts a COMMENT review with inline comments pinned to commitSHA.
func (c *Client) CreateReview(ctx context.Context, number int, commitSHA string, comments []ReviewComment) error {
	draft := make([]*gh.DraftReviewComment, 0, len(comments))
	for _, rc := range comments {
		draft = append(draft, &gh.DraftReviewComment{
			Path: gh.Ptr(rc.Path),
			Line: gh.Ptr(rc.Line),
			Side: gh.Ptr("RIGHT"),
			Body: gh.Ptr(rc.Body),
		})
	}
	return c.call(ctx, "forge.CreateReview", func() (*gh.Response, error) {
		_, resp, err := c.gh.PullRequests.CreateReview(ctx, c.owner, c.repo, number, &gh.PullRequestReviewRequest{
			CommitID: gh.Ptr(commitSHA),
			Event:    gh.Ptr("COMMENT"),
			Comments: draft,
		})
		return resp, err
	})
}

// CreateIssueComment posts a general comment on a pull request.
func (c *Client) CreateIssueComment(ctx context.Context, number int, body string) error {
	return c.call(ctx, "forge.CreateIssueComment", func() (*gh.Response, error) {
		_, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		return resp, err
	})
}

// ListChecksForRef lists check runs for a commit, following pagination.
func (c *Client) ListChecksForRef(ctx context.Context, ref string) ([]CheckRun, error) {
	var runs []CheckRun
	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		var page []*gh.CheckRun
		var next int
		err := c.call(ctx, "forge.ListChecksForRef", func() (*gh.Response, error) {
			res, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, ref, opts)
			if err == nil {
				page = res.CheckRuns
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, cr := range page {
			runs = append(runs, CheckRun{
				ID:         cr.GetID(),
				Name:       cr.GetName(),
				Status:     cr.GetStatus(),
				Conclusion: cr.GetConclusion(),
				URL:        cr.GetHTMLURL(),
				Summary:    cr.GetOutput().GetSummary(),
			})
		}
		if next == 0 {
			return runs, nil
		}
		opts.Page = next
	}
}

// ListAnnotations lists the annotations of a check run.
func (c *Client) ListAnnotations(ctx context.Context, checkID int64) ([]CheckAnnotation, error) {
	var anns []CheckAnnotation
	opts := &gh.ListOptions{PerPage: 100}
	for {
		var page []*gh.CheckRunAnnotation
		var next int
		err := c.call(ctx, "forge.ListAnnotations", func() (*gh.Response, error) {
			as, resp, err := c.gh.Checks.ListCheckRunAnnotations(ctx, c.owner, c.repo, checkID, opts)
			if err == nil {
				page = as
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			anns = append(anns, CheckAnnotation{
				Path:      a.GetPath(),
				StartLine: a.GetStartLine(),
				Message:   a.GetMessage(),
				Level:     a.GetAnnotationLevel(),
			})
		}
		if next == 0 {
			return anns, nil
		}
		opts.Page = next
	}
}

// GetCombinedStatus fetches the combined legacy status for a ref.
func (c *Client) GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error) {
	var out *CombinedStatus
	err := c.call(ctx, "forge.GetCombinedStatus", func() (*gh.Response, error) {
		cs, resp, err := c.gh.Repositories.GetCombinedStatus(ctx, c.owner, c.repo, ref, &gh.ListOptions{PerPage: 100})
		if err != nil {
			return resp, err
		}
		out = &CombinedStatus{State: cs.GetState()}
		for _, s := range cs.Statuses {
			out.Statuses = append(out.Statuses, StatusContext{
				Context:     s.GetContext(),
				State:       s.GetState(),
				Description: s.GetDescription(),
				TargetURL:   s.GetTargetURL(),
			})
		}
		return resp, nil
	})
	return out, err
}
