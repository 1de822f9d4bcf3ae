// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the chat agent over HTTP. Each request runs one
// complete session: create, one turn, end.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubmate/hubmate/pkg/action"
	"github.com/hubmate/hubmate/pkg/chat"
	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/render"
)

// Server routes HTTP requests to the chat agent.
type Server struct {
	agent        *chat.Agent
	catalog      *action.Catalog
	blockActions map[string]bool
	log          *slog.Logger
	mux          *http.ServeMux
}

// Option configures the Server.
type Option func(*Server)

// WithBlockActions names the actions whose feedback must be a render-block
// array. Their payloads are validated and degrade to the error block when
// malformed.
func WithBlockActions(names ...string) Option {
	return func(s *Server) {
		for _, n := range names {
			s.blockActions[n] = true
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates the HTTP server around an agent and its action catalog.
func New(agent *chat.Agent, catalog *action.Catalog, opts ...Option) *Server {
	s := &Server{
		agent:        agent,
		catalog:      catalog,
		blockActions: make(map[string]bool),
		log:          slog.Default(),
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("/analyze-github/message", requireMethod(http.MethodPost, s.handleMessage))
	s.mux.HandleFunc("/healthz", requireMethod(http.MethodGet, s.handleHealth))
	return s
}

// requireMethod restricts a route to one HTTP method, answering 405 with an
// Allow header otherwise. It stands in for the method-prefixed ServeMux
// patterns of Go 1.22+, which the Go 1.21 toolchain building this module
// treats as literal paths.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// partnerName labels the anonymous web client in each session's persona
// prompt.
const partnerName = "Chat Github"

type messageRequest struct {
	Description string `json:"description"`
}

type messageResponse struct {
	Message      string              `json:"message"`
	FunctionCall *functionCallReport `json:"functionCall,omitempty"`
}

type functionCallReport struct {
	Name   string           `json:"fn_name"`
	Result invocationResult `json:"result"`
}

type invocationResult struct {
	ActionID        string `json:"action_id"`
	Status          string `json:"action_status"`
	FeedbackMessage string `json:"feedback_message,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.New(errors.CodeInvalidInput, "request body is not valid JSON", err))
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		s.writeError(w, errors.New(errors.CodeInvalidInput, "description is required", nil))
		return
	}

	ctx := r.Context()
	session, err := s.agent.CreateChat(ctx, chat.Config{
		PartnerID:   uuid.NewString(),
		PartnerName: partnerName,
		ActionSpace: s.catalog,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() {
		if err := session.End(ctx); err != nil {
			s.log.Warn("httpapi.session.end_failed",
				slog.String("session_id", session.SessionID()),
				slog.String("error", err.Error()),
			)
		}
	}()

	turn, err := session.Next(ctx, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := messageResponse{Message: turn.Message}
	if fc := turn.FunctionCall; fc != nil {
		feedback := fc.Result.FeedbackMessage
		if s.blockActions[fc.Name] && fc.Result.Status == action.StatusDone {
			feedback = render.Marshal(render.ParseFeedback(feedback))
		}
		resp.FunctionCall = &functionCallReport{
			Name: fc.Name,
			Result: invocationResult{
				ActionID:        fc.Result.ActionID,
				Status:          string(fc.Result.Status),
				FeedbackMessage: feedback,
			},
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("httpapi.write_failed", slog.String("error", err.Error()))
	}
}

// problem is an RFC 7807 error body.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	he := errors.AsHubError(err)
	status := he.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	s.log.Error("httpapi.request_failed",
		slog.String("code", string(he.Code)),
		slog.Int("status", status),
		slog.String("error", he.Error()),
	)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: he.Message,
		Code:   string(he.Code),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("httpapi.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}
