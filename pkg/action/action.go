// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package action defines the action-space building blocks: named,
// independently invocable units of side-effecting work with a declared
// argument schema, and the normalized result envelope every invocation
// produces.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the outcome classification of an action invocation.
type Status string

const (
	// StatusDone marks a successful invocation.
	StatusDone Status = "done"
	// StatusFailed marks a contained failure. Failures never raise past the
	// dispatch boundary; they are captured and reported through the envelope.
	StatusFailed Status = "failed"
)

// Envelope is the normalized outcome of an action invocation.
// It is an immutable value; construct one with Done or Failed.
type Envelope struct {
	Status  Status `json:"action_status"`
	Payload string `json:"feedback_message,omitempty"`
}

// Done builds a success envelope. The payload is the action's useful output:
// raw JSON, or a render recipe combining serialized data with
// natural-language formatting instructions for the planner.
func Done(payload string) Envelope {
	return Envelope{Status: StatusDone, Payload: payload}
}

// Failed builds a failure envelope with a short diagnostic safe to surface
// to the end user.
func Failed(reason string) Envelope {
	return Envelope{Status: StatusFailed, Payload: reason}
}

// Donef builds a success envelope with a formatted payload.
func Donef(format string, args ...any) Envelope {
	return Done(fmt.Sprintf(format, args...))
}

// Failedf builds a failure envelope with a formatted diagnostic.
func Failedf(format string, args ...any) Envelope {
	return Failed(fmt.Sprintf(format, args...))
}

// Logger is the side-channel observation capability injected into
// executables. Implementations must be safe for concurrent use.
type Logger interface {
	Record(msg string)
}

// LoggerFunc adapts a function to the Logger interface.
type LoggerFunc func(msg string)

// Record implements Logger.
func (f LoggerFunc) Record(msg string) { f(msg) }

// NopLogger discards all observations.
type NopLogger struct{}

// Record implements Logger.
func (NopLogger) Record(string) {}

// ArgSpec describes one named parameter of an action. The description is
// the only signal the planner has to produce a value, so it must carry the
// full semantics.
type ArgSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Type is a JSON-schema type tag. Empty means "string".
	Type string `json:"type,omitempty"`
}

// Executable performs the action's unit of work. It may call external
// services and write observations to the logger. It returns exactly one
// envelope and must contain its own failures; the Invoke wrapper converts
// any escaping panic to a Failed envelope as a last resort.
type Executable func(ctx context.Context, args Args, logger Logger) Envelope

// Action is a named, immutable, independently invocable unit of work.
// Actions are shared definitions: the same Action may appear in multiple
// catalogs.
type Action struct {
	Name        string
	Description string
	Args        []ArgSpec

	executable Executable
}

// Define builds an Action. The name must be non-empty and the description
// must fully describe semantics, because it is the only signal the planner
// uses to choose among actions.
func Define(name, description string, args []ArgSpec, executable Executable) (Action, error) {
	if strings.TrimSpace(name) == "" {
		return Action{}, errors.New("action name is required")
	}
	if strings.TrimSpace(description) == "" {
		return Action{}, fmt.Errorf("action %q: description is required", name)
	}
	if executable == nil {
		return Action{}, fmt.Errorf("action %q: executable is required", name)
	}
	return Action{
		Name:        name,
		Description: description,
		Args:        append([]ArgSpec(nil), args...),
		executable:  executable,
	}, nil
}

// MustDefine is like Define but panics on invalid definitions. Intended for
// static catalog composition at init time.
func MustDefine(name, description string, args []ArgSpec, executable Executable) Action {
	a, err := Define(name, description, args, executable)
	if err != nil {
		panic(err)
	}
	return a
}

// Invoke runs the executable with the given arguments. It always returns
// exactly one envelope: a panic inside the executable is recovered and
// converted to a Failed envelope.
func (a Action) Invoke(ctx context.Context, args Args, logger Logger) (env Envelope) {
	if logger == nil {
		logger = NopLogger{}
	}
	defer func() {
		if r := recover(); r != nil {
			env = Failedf("action %s failed: %v", a.Name, r)
		}
	}()
	return a.executable(ctx, args, logger)
}

// Args holds the planner-supplied argument values, keyed by parameter name.
// All values are carried as strings; executables coerce the types they
// depend on defensively.
type Args map[string]string

// DecodeArgs parses a raw JSON argument object as produced by the planner.
// Non-string values are stringified. Malformed or empty input yields an
// empty Args, never an error: argument problems surface inside executables
// as Failed envelopes, not as dispatch faults.
func DecodeArgs(raw string) Args {
	out := Args{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return out
	}
	for key, value := range parsed {
		switch v := value.(type) {
		case string:
			out[key] = v
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(v)
		case nil:
			out[key] = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[key] = string(encoded)
		}
	}
	return out
}

// String returns the named argument, trimmed.
func (a Args) String(name string) string {
	return strings.TrimSpace(a[name])
}

// Float coerces the named argument to a float64. It rejects missing or
// non-numeric input so executables can fail with a useful diagnostic.
func (a Args) Float(name string) (float64, error) {
	raw := a.String(name)
	if raw == "" {
		return 0, fmt.Errorf("argument %q is required", name)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be numeric, got %q", name, raw)
	}
	return value, nil
}

// Int coerces the named argument to an int.
func (a Args) Int(name string) (int, error) {
	raw := a.String(name)
	if raw == "" {
		return 0, fmt.Errorf("argument %q is required", name)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be an integer, got %q", name, raw)
	}
	return value, nil
}
