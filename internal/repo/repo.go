// Package repo resolves repository metadata from git providers when a
// workspace is provisioned with only a URL: the numeric repo id and the
// default branch. Lookups are best-effort; a workspace with unresolved
// fields still works, it just cannot be matched for reuse on copy.
package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Meta is the resolved repository metadata.
type Meta struct {
	ID            int64
	FullName      string
	DefaultBranch string
}

// Resolver looks a repository up by its clone URL.
type Resolver interface {
	Lookup(ctx context.Context, gitURL string) (*Meta, error)
}

// GitHub is the go-github backed Resolver.
type GitHub struct {
	client *github.Client
}

// NewGitHub builds a Resolver. token may be empty for public repositories.
func NewGitHub(ctx context.Context, token string) *GitHub {
	var client *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}
	return &GitHub{client: client}
}

// Lookup implements Resolver.
func (g *GitHub) Lookup(ctx context.Context, gitURL string) (*Meta, error) {
	owner, name, err := splitGitHubURL(gitURL)
	if err != nil {
		return nil, err
	}
	r, _, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("repo: lookup %s/%s: %w", owner, name, err)
	}
	return &Meta{
		ID:            r.GetID(),
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
	}, nil
}

// splitGitHubURL extracts owner and repo from https and ssh clone URLs.
func splitGitHubURL(gitURL string) (owner, name string, err error) {
	s := strings.TrimSuffix(gitURL, ".git")
	if i := strings.Index(s, "github.com"); i >= 0 {
		s = s[i+len("github.com"):]
		s = strings.TrimLeft(s, ":/")
	} else {
		return "", "", fmt.Errorf("repo: not a github url: %s", gitURL)
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo: cannot parse url: %s", gitURL)
	}
	return parts[0], parts[1], nil
}
