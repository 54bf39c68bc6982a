// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/contrib-counter/internal/apperr"
	"github.com/naka-gawa/contrib-counter/internal/domain"
	"github.com/naka-gawa/contrib-counter/internal/retry"
)

const (
	userAgent       = "contrib-counter"
	acceptMediaType = "application/vnd.github+json"

	// commitsPerPage must stay 1: the "last" page number only equals the
	// number of commits when every page holds a single commit.
	commitsPerPage = 1
)

// Counter defines the behavior of a gateway for counting contributions on GitHub.
type Counter interface {
	CountCommits(ctx context.Context, repo domain.Repository, author string) (int, error)
	CountPullRequests(ctx context.Context, query string) (int, error)
}

// Options configures NewGitHubGateway.
type Options struct {
	Token string
	// BaseURL points the REST client at GitHub Enterprise, e.g. "https://ghe.example.com/api/v3/".
	BaseURL string
	// UseGraphQL answers pull-request counts with the GraphQL search API.
	UseGraphQL bool
	Timeout    time.Duration
	Retry      retry.Policy
}

// GitHubGateway is the concrete implementation of the Counter interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	policy        retry.Policy
	logger        *log.Logger
}

// searchCountQuery asks only for the number of matching issues and pull requests.
type searchCountQuery struct {
	Search struct {
		IssueCount *int
	} `graphql:"search(query: $query, type: ISSUE, first: 1)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
// Without a token the requests are unauthenticated and subject to lower rate limits.
func NewGitHubGateway(opts Options, logger *log.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	var transport http.RoundTripper = &headerTransport{base: rateLimitWaiter}
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Base:   transport,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
		}
	} else {
		logger.Warn("No GITHUB_TOKEN or GH_TOKEN set, using unauthenticated requests")
	}
	httpClient := &http.Client{Transport: transport, Timeout: opts.Timeout}
	// githubv4 reduces a non-200 status to a plain string, so the GraphQL
	// client reads status and rate-limit headers before it does.
	graphqlHTTPClient := &http.Client{
		Transport: &graphqlStatusTransport{base: transport, now: opts.Retry.Now},
		Timeout:   opts.Timeout,
	}

	restClient := github.NewClient(httpClient)
	graphqlURL := "https://api.github.com/graphql"
	if opts.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidConfig, err, "invalid base url %q", opts.BaseURL)
		}
		restClient.BaseURL = baseURL
		graphqlURL = graphQLEndpoint(baseURL)
	}

	g := newGateway(restClient, opts.Retry, logger)
	if opts.UseGraphQL {
		g.graphqlClient = githubv4.NewEnterpriseClient(graphqlURL, graphqlHTTPClient)
	}
	return g, nil
}

func newGateway(restClient *github.Client, policy retry.Policy, logger *log.Logger) *GitHubGateway {
	restClient.UserAgent = userAgent
	return &GitHubGateway{
		restClient: restClient,
		policy:     policy,
		logger:     logger,
	}
}

// graphQLEndpoint derives the GraphQL URL from a REST base URL.
// Enterprise servers serve REST under /api/v3/ and GraphQL under /api/graphql.
func graphQLEndpoint(base *url.URL) string {
	u := *base
	path := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/v3")
	u.Path = path + "/graphql"
	return u.String()
}

// CountCommits returns the number of commits authored by author on the default branch.
func (g *GitHubGateway) CountCommits(ctx context.Context, repo domain.Repository, author string) (int, error) {
	g.logger.Debug("Listing commits", "repo", repo.FullName(), "author", author)
	opts := &github.CommitsListOptions{
		Author:      author,
		ListOptions: github.ListOptions{PerPage: commitsPerPage},
	}

	var count int
	err := g.policy.Do(ctx, func() error {
		commits, resp, err := g.restClient.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return g.classify(err, "list commits of "+repo.FullName())
		}
		count, err = commitCount(len(commits), resp, opts.PerPage)
		return err
	})
	if err != nil {
		return 0, err
	}
	g.logger.Debug("Counted commits", "repo", repo.FullName(), "count", count)
	return count, nil
}

// commitCount derives the total number of commits from a single page.
// Without a "last" link everything fit on this page, otherwise the last
// page number is the total because each page holds exactly one commit.
func commitCount(pageLen int, resp *github.Response, perPage int) (int, error) {
	if perPage != 1 {
		return 0, fmt.Errorf("commit counting requires per_page=1, got %d", perPage)
	}
	if resp == nil || resp.LastPage == 0 {
		return pageLen, nil
	}
	return resp.LastPage, nil
}

// CountPullRequests returns the total_count of an issue search query.
func (g *GitHubGateway) CountPullRequests(ctx context.Context, query string) (int, error) {
	if g.graphqlClient != nil {
		return g.countPullRequestsGraphQL(ctx, query)
	}

	g.logger.Debug("Searching pull requests", "query", query)
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}}

	var count int
	err := g.policy.Do(ctx, func() error {
		result, _, err := g.restClient.Search.Issues(ctx, query, opts)
		if err != nil {
			return g.classify(err, "search pull requests")
		}
		if result == nil || result.Total == nil {
			return apperr.New(apperr.CodeMalformedResponse, "search response for %q has no total_count", query)
		}
		count = result.GetTotal()
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.logger.Debug("Counted pull requests", "query", query, "count", count)
	return count, nil
}

func (g *GitHubGateway) countPullRequestsGraphQL(ctx context.Context, query string) (int, error) {
	g.logger.Debug("Searching pull requests using GraphQL", "query", query)
	variables := map[string]interface{}{"query": githubv4.String(query)}

	var count int
	err := g.policy.Do(ctx, func() error {
		var q searchCountQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return g.classifyGraphQL(err)
		}
		if q.Search.IssueCount == nil {
			return apperr.New(apperr.CodeMalformedResponse, "graphql search response for %q has no issueCount", query)
		}
		count = *q.Search.IssueCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	g.logger.Debug("Counted pull requests", "query", query, "count", count)
	return count, nil
}

// classify maps a go-github error onto the application error taxonomy.
func (g *GitHubGateway) classify(err error, action string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		g.logger.Warn("Primary rate limit exceeded", "reset", rateErr.Rate.Reset.Time)
		return apperr.RateLimited(rateErr.Rate.Reset.Time, err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var resetAt time.Time
		if d := abuseErr.GetRetryAfter(); d > 0 {
			resetAt = time.Now().Add(d)
		}
		g.logger.Warn("Secondary rate limit exceeded", "retry_after", abuseErr.GetRetryAfter())
		return apperr.RateLimited(resetAt, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		if status == http.StatusUnauthorized {
			return apperr.Wrap(apperr.CodeAuth, err, "%s: bad credentials", action)
		}
		appErr := apperr.HTTP(status, respErr.Message, err)
		appErr.Message = action + " failed"
		if appErr.Retryable {
			g.logger.Warn("Server error, will retry", "action", action, "status", status)
		}
		return appErr
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return apperr.Wrap(apperr.CodeMalformedResponse, err, "%s: unexpected response body", action)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	g.logger.Warn("Request failed, will retry", "action", action, "err", err)
	netErr := apperr.Wrap(apperr.CodeNetwork, err, "%s failed", action)
	netErr.Retryable = true
	return netErr
}

// classifyGraphQL passes through errors already classified by
// graphqlStatusTransport, retries other transport failures and treats
// errors reported by the GraphQL API itself as fatal.
func (g *GitHubGateway) classifyGraphQL(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch {
		case appErr.Code == apperr.CodeRateLimited:
			g.logger.Warn("GraphQL rate limit exceeded", "reset", appErr.ResetAt)
		case appErr.Retryable:
			g.logger.Warn("GraphQL server error, will retry", "status", appErr.Status)
		}
		return appErr
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && !errors.Is(err, context.Canceled) {
		g.logger.Warn("GraphQL request failed, will retry", "err", err)
		netErr := apperr.Wrap(apperr.CodeNetwork, err, "graphql search failed")
		netErr.Retryable = true
		return netErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(apperr.CodeHTTP, err, "graphql search failed")
}
