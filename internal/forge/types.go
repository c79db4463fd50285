package forge

// Repo is the subset of repository metadata the service consumes.
type Repo struct {
	ID            int64
	DefaultBranch string
}

// PRFile is one changed file in a pull request.
type PRFile struct {
	Filename string
	Status   string // added, modified, removed, renamed
}

// FileContent is a fetched blob plus its sha.
type FileContent struct {
	Content []byte
	SHA     string
}

// Ref is a resolved git reference.
type Ref struct {
	SHA string
}

// Commit is the subset of commit metadata used for tree manipulation.
type Commit struct {
	SHA     string
	TreeSHA string
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// ReviewComment is one inline comment of a PR review.
type ReviewComment struct {
	Path string
	Line int
	Body string
}

// CheckRun is the subset of a check run the CI monitor consumes.
type CheckRun struct {
	ID         int64
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, neutral, cancelled, timed_out, action_required
	URL        string
	Summary    string
}

// CheckAnnotation is one annotation attached to a failed check run.
type CheckAnnotation struct {
	Path      string
	StartLine int
	Message   string
	Level     string // notice, warning, failure
}

// StatusContext is one legacy commit status.
type StatusContext struct {
	Context     string
	State       string // pending, success, failure, error
	Description string
	TargetURL   string
}

// CombinedStatus is the combined legacy status for a ref.
type CombinedStatus struct {
	State    string
	Statuses []StatusContext
}
