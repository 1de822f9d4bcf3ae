// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package space composes the GitHub persona's action catalog: issue
// listing, issue creation with task breakdown, round-robin allocation,
// reward distribution and project judging.
package space

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hubmate/hubmate/pkg/action"
	"github.com/hubmate/hubmate/pkg/backend"
	"github.com/hubmate/hubmate/pkg/github"
	"github.com/hubmate/hubmate/pkg/llm"
)

// IssueTracker is the slice of the issue-tracker client the actions need.
type IssueTracker interface {
	ListOpenIssues(ctx context.Context) ([]github.Issue, error)
	ListUnassignedIssues(ctx context.Context) ([]github.Issue, error)
	CreateIssue(ctx context.Context, req github.NewIssue) (int, error)
	AddAssignees(ctx context.Context, number int, logins []string) error
}

// Backend is the slice of the backend services client the actions need.
type Backend interface {
	EvalContributions(ctx context.Context, repoURL string) ([]backend.Contributor, error)
	ListRepos(ctx context.Context, offset, limit int) ([]backend.Repo, error)
}

// Config carries the collaborator handles and project conventions the
// GitHub persona operates under.
type Config struct {
	Tracker    IssueTracker
	Backend    Backend
	Planner    llm.Provider
	Model      string
	RepoURL    string
	Developers []string
	Categories []string
	// JudgePageSize bounds how many projects one judging round considers.
	// Zero means the default of 10.
	JudgePageSize int
}

// Space holds the configured persona and produces its catalog.
type Space struct {
	cfg Config
}

// New builds the GitHub persona from its collaborators.
func New(cfg Config) *Space {
	if cfg.JudgePageSize <= 0 {
		cfg.JudgePageSize = 10
	}
	return &Space{cfg: cfg}
}

// Catalog returns the persona's action catalog in its fixed order.
func (s *Space) Catalog() *action.Catalog {
	return action.MustCatalog(
		s.getProjectIssue(),
		s.createIssue(),
		s.allocateIssue(),
		s.distributeReward(),
		s.judgeProjects(),
	)
}

func (s *Space) getProjectIssue() action.Action {
	return action.MustDefine(
		"get_project_issue",
		"List the open issues of the project, including priority, effort and category labels and current assignees. Use this when the user asks about issues, tasks or project status.",
		nil,
		func(ctx context.Context, _ action.Args, logger action.Logger) action.Envelope {
			issues, err := s.cfg.Tracker.ListOpenIssues(ctx)
			if err != nil {
				logger.Record("listing open issues failed: " + err.Error())
				return action.Failedf("could not fetch issues: %v", err)
			}
			logger.Record(fmt.Sprintf("fetched %d open issues", len(issues)))
			data, err := json.Marshal(issues)
			if err != nil {
				return action.Failedf("could not serialize issues: %v", err)
			}
			return action.Donef(
				"Open issues as JSON: %s\nPresent them as a concise list. For each issue show the number, title, priority, effort, category and assignee if any. Mention that unassigned issues can be allocated on request.",
				data,
			)
		},
	)
}

// task is one unit of the breakdown the planner produces for create_issue.
type task struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Priority        int    `json:"priority"`
	EstimatedEffort int    `json:"estimatedEffort"`
}

func (s *Space) createIssue() action.Action {
	return action.MustDefine(
		"create_issue",
		"Break a feature request or problem description into concrete development tasks and create a GitHub issue for each. Use this when the user wants new work tracked.",
		[]action.ArgSpec{{
			Name:        "description",
			Description: "The user's full request or problem description to break into tasks.",
		}},
		func(ctx context.Context, args action.Args, logger action.Logger) action.Envelope {
			description := args.String("description")
			if description == "" {
				return action.Failed("a description of the work is required")
			}

			tasks, err := s.breakdown(ctx, description)
			if err != nil {
				logger.Record("task breakdown failed: " + err.Error())
				return action.Failedf("could not break the request into tasks: %v", err)
			}

			created := make([]github.Issue, 0, len(tasks))
			for _, t := range s.normalizeTasks(tasks) {
				number, err := s.cfg.Tracker.CreateIssue(ctx, github.NewIssue{
					Title:  t.Title,
					Body:   t.Description,
					Labels: github.FormatLabels(t.Priority, t.EstimatedEffort, t.Category),
				})
				if err != nil {
					logger.Record(fmt.Sprintf("creating issue %q failed: %v", t.Title, err))
					return action.Failedf("created %d of %d issues before a failure: %v", len(created), len(tasks), err)
				}
				logger.Record(fmt.Sprintf("created issue #%d %q", number, t.Title))
				created = append(created, github.Issue{
					Number:   number,
					Title:    t.Title,
					Priority: t.Priority,
					Effort:   t.EstimatedEffort,
					Category: t.Category,
				})
			}

			data, err := json.Marshal(created)
			if err != nil {
				return action.Failedf("could not serialize created issues: %v", err)
			}
			return action.Donef(
				"Created issues as JSON: %s\nConfirm to the user what was created. List each issue with its number, title, priority, effort and category.",
				data,
			)
		},
	)
}

// breakdown asks the planner to decompose a description into tasks and
// parses the strict JSON array it is instructed to return.
func (s *Space) breakdown(ctx context.Context, description string) ([]task, error) {
	categories := strings.Join(s.cfg.Categories, ", ")
	resp, err := s.cfg.Planner.Chat(ctx, llm.ChatRequest{
		Model: s.cfg.Model,
		Messages: []llm.Message{
			{
				Role: llm.RoleSystem,
				Content: fmt.Sprintf(
					"You are a technical project planner. Break the user's request into development tasks. "+
						"Respond with ONLY a JSON array, no prose and no code fences. Each element: "+
						`{"title": string, "description": string, "category": one of [%s], "priority": integer 1-5 (5 is most urgent), "estimatedEffort": integer 1-10}.`,
					categories,
				),
			},
			{Role: llm.RoleUser, Content: description},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	raw := stripCodeFence(resp.Content)
	var tasks []task
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("task breakdown is not valid JSON: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task breakdown produced no tasks")
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("task %d has no title", i+1)
		}
	}
	return tasks, nil
}

// normalizeTasks clamps priorities and efforts into range and forces the
// category onto the allow-list.
func (s *Space) normalizeTasks(tasks []task) []task {
	out := make([]task, 0, len(tasks))
	for _, t := range tasks {
		t.Priority = clamp(t.Priority, 1, 5)
		t.EstimatedEffort = clamp(t.EstimatedEffort, 1, 10)
		t.Category = s.allowedCategory(t.Category)
		out = append(out, t)
	}
	return out
}

func (s *Space) allowedCategory(category string) string {
	category = strings.TrimSpace(category)
	for _, c := range s.cfg.Categories {
		if strings.EqualFold(c, category) {
			return c
		}
	}
	if len(s.cfg.Categories) > 0 {
		return s.cfg.Categories[0]
	}
	return category
}

func (s *Space) allocateIssue() action.Action {
	return action.MustDefine(
		"allocate_issue",
		"Assign every currently unassigned open issue to the project's developers, distributing them round-robin so the workload stays even. Use this when the user asks to allocate or assign issues.",
		nil,
		func(ctx context.Context, _ action.Args, logger action.Logger) action.Envelope {
			if len(s.cfg.Developers) == 0 {
				return action.Failed("no developers are configured for this project")
			}
			issues, err := s.cfg.Tracker.ListUnassignedIssues(ctx)
			if err != nil {
				logger.Record("listing unassigned issues failed: " + err.Error())
				return action.Failedf("could not fetch unassigned issues: %v", err)
			}
			if len(issues) == 0 {
				return action.Done("There are no unassigned issues right now. Tell the user everything is already allocated.")
			}

			type assignment struct {
				Number   int    `json:"number"`
				Title    string `json:"title"`
				Assignee string `json:"assignee"`
			}
			assignments := make([]assignment, 0, len(issues))
			for i, issue := range issues {
				login := s.cfg.Developers[i%len(s.cfg.Developers)]
				if err := s.cfg.Tracker.AddAssignees(ctx, issue.Number, []string{login}); err != nil {
					logger.Record(fmt.Sprintf("assigning issue #%d to %s failed: %v", issue.Number, login, err))
					return action.Failedf("assigned %d of %d issues before a failure: %v", len(assignments), len(issues), err)
				}
				logger.Record(fmt.Sprintf("assigned issue #%d to %s", issue.Number, login))
				assignments = append(assignments, assignment{Number: issue.Number, Title: issue.Title, Assignee: login})
			}

			data, err := json.Marshal(assignments)
			if err != nil {
				return action.Failedf("could not serialize assignments: %v", err)
			}
			return action.Donef(
				"Assignments as JSON: %s\nSummarize for the user who got which issue, grouped by developer.",
				data,
			)
		},
	)
}

func (s *Space) distributeReward() action.Action {
	return action.MustDefine(
		"distribute_reward",
		"Split a reward amount across the project's contributors in proportion to their evaluated contribution ratios. Use this when the user wants to pay out or distribute a reward.",
		[]action.ArgSpec{{
			Name:        "amount",
			Description: "The total reward amount to distribute, as a number.",
			Type:        "number",
		}},
		func(ctx context.Context, args action.Args, logger action.Logger) action.Envelope {
			amount, err := args.Float("amount")
			if err != nil {
				return action.Failedf("invalid reward amount: %v", err)
			}
			if amount <= 0 {
				return action.Failed("the reward amount must be positive")
			}

			contributors, err := s.cfg.Backend.EvalContributions(ctx, s.cfg.RepoURL)
			if err != nil {
				logger.Record("contribution evaluation failed: " + err.Error())
				return action.Failedf("could not evaluate contributions: %v", err)
			}
			if len(contributors) == 0 {
				return action.Failed("the contribution service returned no contributors")
			}

			rewards, ratioSum := backend.ComputeRewards(contributors, amount)
			if backend.RatioSumSkewed(ratioSum) {
				logger.Record(fmt.Sprintf("contribution ratios sum to %.2f%%, not 100%%", ratioSum))
			}
			logger.Record(fmt.Sprintf("computed rewards for %d contributors from a total of %.2f", len(rewards), amount))

			data, err := json.Marshal(rewards)
			if err != nil {
				return action.Failedf("could not serialize rewards: %v", err)
			}
			return action.Donef(
				"Rewards as JSON: %s\nPresent each contributor with their contribution ratio and the amount they receive. Note the total distributed.",
				data,
			)
		},
	)
}

func (s *Space) judgeProjects() action.Action {
	return action.MustDefine(
		"judge_projects",
		"Fetch the registered projects with their evaluation scores and prepare a ranked comparison. Use this when the user asks to judge, rank or compare projects.",
		nil,
		func(ctx context.Context, _ action.Args, logger action.Logger) action.Envelope {
			repos, err := s.cfg.Backend.ListRepos(ctx, 0, s.cfg.JudgePageSize)
			if err != nil {
				logger.Record("listing projects failed: " + err.Error())
				return action.Failedf("could not fetch projects: %v", err)
			}
			if len(repos) == 0 {
				return action.Failed("no projects are registered for judging")
			}
			logger.Record(fmt.Sprintf("judging %d projects", len(repos)))

			data, err := json.Marshal(repos)
			if err != nil {
				return action.Failedf("could not serialize projects: %v", err)
			}
			return action.Donef(
				`Projects as JSON: %s
Respond with ONLY a JSON array of render blocks, no prose and no code fences. Use an html block ({"type": "html", "content": "..."}) for the ranked verdict with a short justification per project, and a chart block ({"type": "chart", "title": "...", "data": [{"key": "<project>", "value": <score>}]}) for the scores.`,
				data,
			)
		},
	)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// stripCodeFence removes a surrounding markdown code fence if the planner
// added one despite instructions.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
