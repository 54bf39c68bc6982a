// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"fmt"
	"strings"
)

// Mode selects how contributions to a repository are counted.
type Mode string

const (
	// ModeCommits counts commits on the default branch authored by the user.
	ModeCommits Mode = "commits"
	// ModePullRequests counts every pull request opened by the user.
	ModePullRequests Mode = "pull-requests"
	// ModeMergedPullRequests counts only merged pull requests.
	ModeMergedPullRequests Mode = "merged-pull-requests"
)

// ParseMode converts a configuration string into a Mode.
// An empty string defaults to ModeCommits.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeCommits, nil
	case ModeCommits, ModePullRequests, ModeMergedPullRequests:
		return m, nil
	default:
		return "", fmt.Errorf("unknown count mode %q (want %s, %s or %s)", s, ModeCommits, ModePullRequests, ModeMergedPullRequests)
	}
}

// IsPullRequest reports whether the mode is answered by the search endpoint.
func (m Mode) IsPullRequest() bool {
	return m == ModePullRequests || m == ModeMergedPullRequests
}

// Repository identifies a remote repository.
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Target binds a marker key in the document to the query that produces its value.
type Target struct {
	Key           string     `json:"key"`
	Repo          Repository `json:"repo"`
	Mode          Mode       `json:"mode"`
	ExcludeDrafts bool       `json:"exclude_drafts"`
}

// PullRequestQuery builds the issue search expression for a pull-request mode.
// NOTE: GitHub treats the terms as an AND filter, order does not matter to the API
// but is kept stable so that logs and tests are predictable.
func (t Target) PullRequestQuery(user string) string {
	terms := []string{"repo:" + t.Repo.FullName(), "is:pr"}
	if t.Mode == ModeMergedPullRequests {
		terms = append(terms, "is:merged")
	}
	if t.ExcludeDrafts {
		terms = append(terms, "-is:draft")
	}
	terms = append(terms, "author:"+user)
	return strings.Join(terms, " ")
}

// String is used in log lines and error messages.
func (t Target) String() string {
	return fmt.Sprintf("%s (%s, %s)", t.Key, t.Repo.FullName(), t.Mode)
}
