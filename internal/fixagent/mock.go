package fixagent

import (
	"context"

	"github.com/codeguardhq/codeguard/internal/analyzer"
)

// MockProposer is a test double for the Proposer interface.
type MockProposer struct {
	ProposeFunc func(ctx context.Context, issue analyzer.Issue, fileContent string) (Proposal, error)
	Calls       int
}

func (m *MockProposer) Propose(ctx context.Context, issue analyzer.Issue, fileContent string) (Proposal, error) {
	m.Calls++
	if m.ProposeFunc != nil {
		return m.ProposeFunc(ctx, issue, fileContent)
	}
	return Proposal{}, nil
}
