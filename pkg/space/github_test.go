// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package space

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hubmate/hubmate/pkg/action"
	"github.com/hubmate/hubmate/pkg/backend"
	"github.com/hubmate/hubmate/pkg/github"
	"github.com/hubmate/hubmate/pkg/llm"
)

type fakeTracker struct {
	open       []github.Issue
	unassigned []github.Issue
	created    []github.NewIssue
	assigned   map[int][]string

	listErr   error
	createErr error
	assignErr error
}

func (f *fakeTracker) ListOpenIssues(context.Context) ([]github.Issue, error) {
	return f.open, f.listErr
}

func (f *fakeTracker) ListUnassignedIssues(context.Context) ([]github.Issue, error) {
	return f.unassigned, f.listErr
}

func (f *fakeTracker) CreateIssue(_ context.Context, req github.NewIssue) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, req)
	return 100 + len(f.created), nil
}

func (f *fakeTracker) AddAssignees(_ context.Context, number int, logins []string) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	if f.assigned == nil {
		f.assigned = make(map[int][]string)
	}
	f.assigned[number] = append(f.assigned[number], logins...)
	return nil
}

type fakeBackend struct {
	contributors []backend.Contributor
	repos        []backend.Repo
	err          error
}

func (f *fakeBackend) EvalContributions(context.Context, string) ([]backend.Contributor, error) {
	return f.contributors, f.err
}

func (f *fakeBackend) ListRepos(context.Context, int, int) ([]backend.Repo, error) {
	return f.repos, f.err
}

func newTestSpace(tracker *fakeTracker, be *fakeBackend, planner llm.Provider) *Space {
	return New(Config{
		Tracker:    tracker,
		Backend:    be,
		Planner:    planner,
		Model:      "test-model",
		RepoURL:    "https://github.com/octo/demo",
		Developers: []string{"alice", "bob"},
		Categories: []string{"bug", "feature", "design"},
	})
}

func invoke(t *testing.T, s *Space, name string, args action.Args) action.Envelope {
	t.Helper()
	a, err := s.Catalog().Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return a.Invoke(context.Background(), args, action.NopLogger{})
}

func TestCatalogComposition(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	want := []string{"get_project_issue", "create_issue", "allocate_issue", "distribute_reward", "judge_projects"}
	got := s.Catalog().Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGetProjectIssue(t *testing.T) {
	tracker := &fakeTracker{open: []github.Issue{
		{Number: 1, Title: "Fix login", Priority: 3, Effort: 5, Category: "bug"},
		{Number: 2, Title: "Add docs", Assignee: "alice"},
	}}
	s := newTestSpace(tracker, &fakeBackend{}, &llm.MockProvider{})

	env := invoke(t, s, "get_project_issue", nil)
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	if !strings.Contains(env.Payload, `"Fix login"`) {
		t.Errorf("payload missing issue data: %s", env.Payload)
	}
	if !strings.Contains(env.Payload, "Present them") {
		t.Errorf("payload missing formatting instructions: %s", env.Payload)
	}
}

func TestGetProjectIssue_TrackerFailureIsContained(t *testing.T) {
	tracker := &fakeTracker{listErr: errors.New("rate limited")}
	s := newTestSpace(tracker, &fakeBackend{}, &llm.MockProvider{})

	env := invoke(t, s, "get_project_issue", nil)
	if env.Status != action.StatusFailed {
		t.Fatalf("expected failed envelope, got %s", env.Status)
	}
	if !strings.Contains(env.Payload, "rate limited") {
		t.Errorf("diagnostic lost: %s", env.Payload)
	}
}

func TestCreateIssue(t *testing.T) {
	tracker := &fakeTracker{}
	planner := &llm.MockProvider{Response: `[
		{"title": "Design schema", "description": "Model the data", "category": "design", "priority": 4, "estimatedEffort": 3},
		{"title": "Implement API", "description": "Build endpoints", "category": "feature", "priority": 9, "estimatedEffort": 0}
	]`}
	s := newTestSpace(tracker, &fakeBackend{}, planner)

	env := invoke(t, s, "create_issue", action.Args{"description": "Build a search feature"})
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	if len(tracker.created) != 2 {
		t.Fatalf("expected 2 issues created, got %d", len(tracker.created))
	}
	first := tracker.created[0]
	if first.Title != "Design schema" {
		t.Errorf("unexpected title %q", first.Title)
	}
	wantLabels := []string{"priority:4", "effort:3", "design"}
	for i, l := range wantLabels {
		if first.Labels[i] != l {
			t.Errorf("label %d: expected %s, got %s", i, l, first.Labels[i])
		}
	}
	// Out-of-range values are clamped, not rejected.
	second := tracker.created[1]
	if second.Labels[0] != "priority:5" || second.Labels[1] != "effort:1" {
		t.Errorf("clamping not applied: %v", second.Labels)
	}
}

func TestCreateIssue_CodeFencedBreakdown(t *testing.T) {
	tracker := &fakeTracker{}
	planner := &llm.MockProvider{Response: "```json\n[{\"title\": \"One task\", \"description\": \"d\", \"category\": \"bug\", \"priority\": 2, \"estimatedEffort\": 2}]\n```"}
	s := newTestSpace(tracker, &fakeBackend{}, planner)

	env := invoke(t, s, "create_issue", action.Args{"description": "fix it"})
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	if len(tracker.created) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(tracker.created))
	}
}

func TestCreateIssue_MalformedBreakdownFails(t *testing.T) {
	planner := &llm.MockProvider{Response: "Sure! Here are the tasks I would create..."}
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, planner)

	env := invoke(t, s, "create_issue", action.Args{"description": "do things"})
	if env.Status != action.StatusFailed {
		t.Fatalf("expected failed envelope, got %s: %s", env.Status, env.Payload)
	}
}

func TestCreateIssue_UnknownCategoryFallsBack(t *testing.T) {
	tracker := &fakeTracker{}
	planner := &llm.MockProvider{Response: `[{"title": "t", "description": "d", "category": "mystery", "priority": 1, "estimatedEffort": 1}]`}
	s := newTestSpace(tracker, &fakeBackend{}, planner)

	env := invoke(t, s, "create_issue", action.Args{"description": "x"})
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	labels := tracker.created[0].Labels
	if labels[len(labels)-1] != "bug" {
		t.Errorf("unknown category should fall back to first allowed, got %v", labels)
	}
}

func TestCreateIssue_MissingDescription(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	env := invoke(t, s, "create_issue", action.Args{})
	if env.Status != action.StatusFailed {
		t.Fatalf("expected failed envelope, got %s", env.Status)
	}
}

func TestAllocateIssue_RoundRobin(t *testing.T) {
	tracker := &fakeTracker{unassigned: []github.Issue{
		{Number: 1, Title: "one"},
		{Number: 2, Title: "two"},
		{Number: 3, Title: "three"},
	}}
	s := newTestSpace(tracker, &fakeBackend{}, &llm.MockProvider{})

	env := invoke(t, s, "allocate_issue", nil)
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	if got := tracker.assigned[1]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("issue 1: expected alice, got %v", got)
	}
	if got := tracker.assigned[2]; len(got) != 1 || got[0] != "bob" {
		t.Errorf("issue 2: expected bob, got %v", got)
	}
	if got := tracker.assigned[3]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("issue 3: expected alice again, got %v", got)
	}
}

func TestAllocateIssue_NothingToAssign(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	env := invoke(t, s, "allocate_issue", nil)
	if env.Status != action.StatusDone {
		t.Fatalf("an empty backlog is not a failure, got %s", env.Status)
	}
}

func TestAllocateIssue_NoDevelopers(t *testing.T) {
	s := New(Config{
		Tracker:    &fakeTracker{unassigned: []github.Issue{{Number: 1}}},
		Backend:    &fakeBackend{},
		Planner:    &llm.MockProvider{},
		Categories: []string{"bug"},
	})
	env := invoke(t, s, "allocate_issue", nil)
	if env.Status != action.StatusFailed {
		t.Fatalf("expected failed envelope, got %s", env.Status)
	}
}

func TestDistributeReward(t *testing.T) {
	be := &fakeBackend{contributors: []backend.Contributor{
		{Login: "alice", Ratio: 70},
		{Login: "bob", Ratio: 30},
	}}
	s := newTestSpace(&fakeTracker{}, be, &llm.MockProvider{})

	env := invoke(t, s, "distribute_reward", action.Args{"amount": "1000"})
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}

	start := strings.Index(env.Payload, "[")
	end := strings.LastIndex(env.Payload, "]")
	if start < 0 || end < start {
		t.Fatalf("payload has no JSON array: %s", env.Payload)
	}
	var rewards []backend.Reward
	if err := json.Unmarshal([]byte(env.Payload[start:end+1]), &rewards); err != nil {
		t.Fatalf("unmarshal rewards: %v", err)
	}
	if rewards[0].Amount != 700 || rewards[1].Amount != 300 {
		t.Errorf("expected 700/300 split, got %v/%v", rewards[0].Amount, rewards[1].Amount)
	}
}

func TestDistributeReward_SkewedRatiosAreLogged(t *testing.T) {
	be := &fakeBackend{contributors: []backend.Contributor{
		{Login: "alice", Ratio: 60},
		{Login: "bob", Ratio: 30},
	}}
	s := newTestSpace(&fakeTracker{}, be, &llm.MockProvider{})

	var records []string
	logger := action.LoggerFunc(func(msg string) { records = append(records, msg) })

	a, err := s.Catalog().Lookup("distribute_reward")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	env := a.Invoke(context.Background(), action.Args{"amount": "100"}, logger)
	if env.Status != action.StatusDone {
		t.Fatalf("skewed ratios still compute, got %s: %s", env.Status, env.Payload)
	}

	found := false
	for _, r := range records {
		if strings.Contains(r, "not 100%") {
			found = true
		}
	}
	if !found {
		t.Errorf("skew warning not recorded: %v", records)
	}
}

func TestDistributeReward_BadAmount(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	for _, amount := range []string{"", "lots", "-5"} {
		env := invoke(t, s, "distribute_reward", action.Args{"amount": amount})
		if env.Status != action.StatusFailed {
			t.Errorf("amount %q: expected failed envelope, got %s", amount, env.Status)
		}
	}
}

func TestJudgeProjects(t *testing.T) {
	be := &fakeBackend{repos: []backend.Repo{
		{FullName: "octo/demo", Score: 8.5, Description: "demo"},
		{FullName: "octo/other", Score: 6.1},
	}}
	s := newTestSpace(&fakeTracker{}, be, &llm.MockProvider{})

	env := invoke(t, s, "judge_projects", nil)
	if env.Status != action.StatusDone {
		t.Fatalf("expected done, got %s: %s", env.Status, env.Payload)
	}
	if !strings.Contains(env.Payload, "octo/demo") {
		t.Errorf("payload missing project data: %s", env.Payload)
	}
	if !strings.Contains(env.Payload, `"chart"`) || !strings.Contains(env.Payload, `"html"`) {
		t.Errorf("payload missing block contract instructions: %s", env.Payload)
	}
}

func TestJudgeProjects_EmptyRegistry(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	env := invoke(t, s, "judge_projects", nil)
	if env.Status != action.StatusFailed {
		t.Fatalf("expected failed envelope, got %s", env.Status)
	}
}

func TestToolSchemas(t *testing.T) {
	s := newTestSpace(&fakeTracker{}, &fakeBackend{}, &llm.MockProvider{})
	tools := s.Catalog().Tools()
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.Function.Description == "" {
			t.Errorf("tool %s has no description", tool.Function.Name)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"  ```json\n[1]\n```  ", "[1]"},
	}
	for i, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("case %d: got %q, want %q", i, got, tt.want)
		}
	}
}
