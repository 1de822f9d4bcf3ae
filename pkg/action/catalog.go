// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"

	"github.com/hubmate/hubmate/pkg/errors"
	"github.com/hubmate/hubmate/pkg/llm"
)

// Catalog is an ordered, read-only collection of actions exposed together
// for one conversational context. Composition is static per persona:
// switching personas means constructing a different catalog, never mutating
// one. A catalog is safe to share by reference across sessions.
type Catalog struct {
	actions []Action
	index   map[string]int
}

// NewCatalog builds a catalog from the given actions. Declaration order is
// preserved so planner prompting stays deterministic. Duplicate names are
// rejected.
func NewCatalog(actions ...Action) (*Catalog, error) {
	c := &Catalog{
		actions: append([]Action(nil), actions...),
		index:   make(map[string]int, len(actions)),
	}
	for i, a := range c.actions {
		if _, exists := c.index[a.Name]; exists {
			return nil, fmt.Errorf("catalog: duplicate action name %q", a.Name)
		}
		c.index[a.Name] = i
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on composition errors. Intended
// for static persona catalogs built at startup.
func MustCatalog(actions ...Action) *Catalog {
	c, err := NewCatalog(actions...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of actions in the catalog.
func (c *Catalog) Len() int { return len(c.actions) }

// Actions returns the actions in declaration order.
func (c *Catalog) Actions() []Action {
	return append([]Action(nil), c.actions...)
}

// Names returns the action names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.actions))
	for i, a := range c.actions {
		names[i] = a.Name
	}
	return names
}

// Lookup resolves an action by name. A miss is a turn-fatal lookup error:
// the dispatch loop reports it and does not proceed.
func (c *Catalog) Lookup(name string) (Action, error) {
	i, ok := c.index[name]
	if !ok {
		return Action{}, errors.New(errors.CodeLookup, "action not found in catalog", nil).
			WithContext("action", name).
			WithRecoverable(false)
	}
	return c.actions[i], nil
}

// Tools renders the catalog as LLM tool definitions: name, description and
// a JSON-schema object derived from each action's argument specs. This is
// everything the planner sees when choosing an action.
func (c *Catalog) Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(c.actions))
	for _, a := range c.actions {
		tools = append(tools, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        a.Name,
				Description: a.Description,
				Parameters:  argSchema(a.Args),
			},
		})
	}
	return tools
}

func argSchema(args []ArgSpec) map[string]any {
	properties := make(map[string]any, len(args))
	required := make([]string, 0, len(args))
	for _, arg := range args {
		typ := arg.Type
		if typ == "" {
			typ = "string"
		}
		properties[arg.Name] = map[string]any{
			"type":        typ,
			"description": arg.Description,
		}
		required = append(required, arg.Name)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
