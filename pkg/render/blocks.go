// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Package render defines the structured feedback blocks the frontend
// consumes and the tolerant parser that never fails a turn over them.
package render

import "encoding/json"

// Block types the frontend knows how to draw.
const (
	TypeHTML  = "html"
	TypeChart = "chart"
)

// Point is one labeled value in a chart block.
type Point struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Block is one renderable unit of feedback. HTML blocks carry markup in
// Content; chart blocks carry a title and data points.
type Block struct {
	Type    string  `json:"type"`
	Content string  `json:"content,omitempty"`
	Title   string  `json:"title,omitempty"`
	Data    []Point `json:"data,omitempty"`
}

// errorFallback is returned whenever feedback cannot be parsed as blocks.
var errorFallback = []Block{{
	Type:    TypeHTML,
	Content: "<p>Sorry, something went wrong while preparing the results. Please try again.</p>",
}}

// ErrorBlocks returns the fixed single-block apology shown when feedback
// is unusable.
func ErrorBlocks() []Block {
	return append([]Block(nil), errorFallback...)
}

// ParseFeedback parses raw model output as a block array. Malformed or
// empty input degrades to the error fallback rather than an error, so a
// bad render never breaks the conversation.
func ParseFeedback(raw string) []Block {
	var blocks []Block
	if err := json.Unmarshal([]byte(raw), &blocks); err != nil {
		return ErrorBlocks()
	}
	if len(blocks) == 0 {
		return ErrorBlocks()
	}
	for _, b := range blocks {
		if b.Type != TypeHTML && b.Type != TypeChart {
			return ErrorBlocks()
		}
	}
	return blocks
}

// Marshal renders blocks back to the wire form. The input is always a
// valid block slice here, so the error is ignored.
func Marshal(blocks []Block) string {
	raw, _ := json.Marshal(blocks)
	return string(raw)
}
