// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package github wraps the issue-tracker collaborator: listing open issues,
// creating issues with the label convention, and updating assignees.
package github

import (
	"context"
	"log/slog"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/resilience"
)

// Issue is the normalized issue view the action layer works with.
type Issue struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Assignee string `json:"assignee,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Effort   int    `json:"effort,omitempty"`
	Category string `json:"category,omitempty"`
}

// NewIssue describes an issue to create.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// Client talks to one repository on behalf of the action space.
// It is read-only after construction and safe for concurrent use.
type Client struct {
	gh         *gh.Client
	owner      string
	repo       string
	categories []string
	timeout    resilience.TimeoutConfig
	retry      resilience.RetryConfig
	log        *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithCategories sets the category label allow-list.
func WithCategories(categories []string) Option {
	return func(c *Client) {
		c.categories = append([]string(nil), categories...)
	}
}

// WithTimeout bounds each outbound call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = resilience.TimeoutConfig{Duration: d}
	}
}

// WithRetry sets the retry policy for outbound calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a Client authenticated with the given token.
func New(token, owner, repo string, opts ...Option) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return NewFromGitHub(gh.NewClient(tc), owner, repo, opts...)
}

// NewFromGitHub creates a Client around an existing go-github client.
// Useful for tests that point BaseURL at a local server.
func NewFromGitHub(client *gh.Client, owner, repo string, opts ...Option) *Client {
	c := &Client{
		gh:      client,
		owner:   owner,
		repo:    repo,
		timeout: resilience.TimeoutConfig{Duration: 15 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOpenIssues returns all open issues for the repository, following
// pagination and excluding pull requests.
func (c *Client) ListOpenIssues(ctx context.Context) ([]Issue, error) {
	var out []Issue
	err := c.call(ctx, "issues.list", func(ctx context.Context) error {
		out = out[:0]
		opts := &gh.IssueListByRepoOptions{
			State:       "open",
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		for {
			issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				if issue.IsPullRequest() {
					continue
				}
				out = append(out, c.normalize(issue))
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUnassignedIssues returns open issues with no assignee, in listing order.
func (c *Client) ListUnassignedIssues(ctx context.Context) ([]Issue, error) {
	issues, err := c.ListOpenIssues(ctx)
	if err != nil {
		return nil, err
	}
	var out []Issue
	for _, issue := range issues {
		if issue.Assignee == "" {
			out = append(out, issue)
		}
	}
	return out, nil
}

// CreateIssue creates an issue and returns its number.
func (c *Client) CreateIssue(ctx context.Context, req NewIssue) (int, error) {
	var number int
	err := c.call(ctx, "issues.create", func(ctx context.Context) error {
		labels := req.Labels
		created, _, err := c.gh.Issues.Create(ctx, c.owner, c.repo, &gh.IssueRequest{
			Title:  gh.String(req.Title),
			Body:   gh.String(req.Body),
			Labels: &labels,
		})
		if err != nil {
			return err
		}
		number = created.GetNumber()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// AddAssignees assigns the given logins to an issue.
func (c *Client) AddAssignees(ctx context.Context, number int, logins []string) error {
	return c.call(ctx, "issues.assign", func(ctx context.Context) error {
		_, _, err := c.gh.Issues.AddAssignees(ctx, c.owner, c.repo, number, logins)
		return err
	})
}

// call wraps one logical operation with the retry and timeout policy and
// normalizes failures into external-service errors.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.retry.Do(ctx, func() error {
		return resilience.WithTimeout(ctx, c.timeout, fn)
	})
	if err == nil {
		return nil
	}
	c.log.Warn("github.call.error",
		slog.String("op", op),
		slog.String("repo", c.owner+"/"+c.repo),
		slog.String("error", err.Error()),
	)
	if he, ok := err.(*errors.HubError); ok {
		return he
	}
	return errors.New(errors.CodeExternalService, "github "+op+" failed", err).
		WithContext("repo", c.owner+"/"+c.repo).
		WithRecoverable(true)
}

func (c *Client) normalize(issue *gh.Issue) Issue {
	names := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		names = append(names, label.GetName())
	}
	priority, effort, category := ParseLabels(names, c.categories)
	return Issue{
		Number:   issue.GetNumber(),
		Title:    issue.GetTitle(),
		Status:   issue.GetState(),
		Assignee: issue.GetAssignee().GetLogin(),
		Priority: priority,
		Effort:   effort,
		Category: category,
	}
}
