// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend talks to the reward-computation and project-listing
// services over HTTP/JSON.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/resilience"
)

// Contributor is one entry from the reward-computation service.
// Ratio is a percentage of the total contributions.
type Contributor struct {
	Login         string  `json:"login"`
	Contributions int     `json:"contributions"`
	Ratio         float64 `json:"ratio"`
	AvatarURL     string  `json:"avatarUrl,omitempty"`
	HTMLURL       string  `json:"htmlUrl,omitempty"`
}

// Repo is one scored project from the listing service.
type Repo struct {
	HTMLURL     string  `json:"htmlUrl"`
	FullName    string  `json:"fullName"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Client calls the backend services. Read-only after construction and safe
// for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	retry   resilience.RetryConfig
	timeout resilience.TimeoutConfig
	log     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRetry sets the retry policy for outbound calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithTimeout bounds each outbound call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = resilience.TimeoutConfig{Duration: d} }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a backend client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
		timeout: resilience.TimeoutConfig{Duration: 15 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// serviceResponse is the common wire envelope of both services.
type serviceResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// EvalContributions asks the reward service to evaluate contributions for a
// repository. The service reports each ratio as a percent string; it is
// coerced to a float here.
func (c *Client) EvalContributions(ctx context.Context, repoURL string) ([]Contributor, error) {
	endpoint := fmt.Sprintf("%s/eval-contributions?repo=%s", c.baseURL, url.QueryEscape(repoURL))

	var payload struct {
		Contributors []struct {
			Login         string `json:"login"`
			Contributions int    `json:"contributions"`
			Ratio         string `json:"ratio"`
			AvatarURL     string `json:"avatarUrl"`
			HTMLURL       string `json:"htmlUrl"`
		} `json:"contributors"`
	}
	if err := c.get(ctx, "eval-contributions", endpoint, &payload); err != nil {
		return nil, err
	}

	out := make([]Contributor, 0, len(payload.Contributors))
	for _, wire := range payload.Contributors {
		ratio, err := strconv.ParseFloat(wire.Ratio, 64)
		if err != nil {
			return nil, errors.New(errors.CodeMalformedContent, "contributor ratio is not numeric", err).
				WithContext("login", wire.Login).
				WithContext("ratio", wire.Ratio)
		}
		out = append(out, Contributor{
			Login:         wire.Login,
			Contributions: wire.Contributions,
			Ratio:         ratio,
			AvatarURL:     wire.AvatarURL,
			HTMLURL:       wire.HTMLURL,
		})
	}
	return out, nil
}

// ListRepos returns a page of scored projects from the listing service.
func (c *Client) ListRepos(ctx context.Context, offset, limit int) ([]Repo, error) {
	endpoint := fmt.Sprintf("%s/github-repos?offset=%d&limit=%d", c.baseURL, offset, limit)

	var payload struct {
		Repos []Repo `json:"repos"`
	}
	if err := c.get(ctx, "github-repos", endpoint, &payload); err != nil {
		return nil, err
	}
	return payload.Repos, nil
}

// get performs one GET against a service endpoint with the retry and
// timeout policy, unwrapping the {status, data} envelope into out.
func (c *Client) get(ctx context.Context, op, endpoint string, out any) error {
	err := c.retry.Do(ctx, func() error {
		return resilience.WithTimeout(ctx, c.timeout, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return errors.New(errors.CodeInternal, "failed to build request", err).WithRecoverable(false)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.client.Do(req)
			if err != nil {
				return errors.New(errors.CodeExternalService, op+" call failed", err).WithRecoverable(true)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return errors.New(errors.CodeExternalService, op+" returned non-OK status", nil).
					WithContext("status_code", resp.StatusCode).
					WithRecoverable(resp.StatusCode >= 500)
			}

			var wire serviceResponse
			if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
				return errors.New(errors.CodeMalformedContent, "failed to decode "+op+" response", err).
					WithRecoverable(false)
			}
			if wire.Status != "success" {
				msg := wire.Message
				if msg == "" {
					msg = op + " reported failure"
				}
				return errors.New(errors.CodeExternalService, msg, nil).WithRecoverable(false)
			}
			if err := json.Unmarshal(wire.Data, out); err != nil {
				return errors.New(errors.CodeMalformedContent, "unexpected "+op+" data shape", err).
					WithRecoverable(false)
			}
			return nil
		})
	})
	if err != nil {
		c.log.Warn("backend.call.error",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}
