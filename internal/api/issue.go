package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

// GitHubIssue is the subset of an issue's fields the create-pipeline prompt
// prepend needs.
type GitHubIssue struct {
	Title  string
	Body   string
	Labels []string
}

// IssueFetcher fetches a GitHub issue for prompt enrichment. The interface
// exists so the prepend-and-degrade behavior at the API boundary has
// somewhere to plug in a real implementation without touching handler code.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, repo string, number int) (*GitHubIssue, error)
}

// StubIssueFetcher always reports the issue as not found, which degrades
// createPipeline's prompt enrichment to the caller-supplied prompt
// unmodified — the fallback NewServer uses when it is given a nil
// IssueFetcher.
type StubIssueFetcher struct{}

func (StubIssueFetcher) FetchIssue(ctx context.Context, repo string, number int) (*GitHubIssue, error) {
	return nil, &store.NotFoundError{Entity: "github issue", ID: fmt.Sprintf("%s#%d", repo, number)}
}

// prependIssueBlock renders the structured GitHub issue block ahead of
// prompt. A fetch failure (including the stub's permanent NotFoundError)
// degrades silently to the original prompt.
func prependIssueBlock(ctx context.Context, fetcher IssueFetcher, repo string, number int, prompt string) string {
	issue, err := fetcher.FetchIssue(ctx, repo, number)
	if err != nil || issue == nil {
		return prompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## GitHub Issue #%d: %s\n\n%s\n\nLabels: %s\n\n", number, issue.Title, issue.Body, strings.Join(issue.Labels, ", "))
	b.WriteString(prompt)
	return b.String()
}
