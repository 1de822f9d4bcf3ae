// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	priorityPrefix = "priority:"
	effortPrefix   = "effort:"
)

// FormatLabels renders the label convention for a task: priority:<n>,
// effort:<n>, plus the category label. Zero values are omitted.
func FormatLabels(priority, effort int, category string) []string {
	var labels []string
	if priority > 0 {
		labels = append(labels, fmt.Sprintf("%s%d", priorityPrefix, priority))
	}
	if effort > 0 {
		labels = append(labels, fmt.Sprintf("%s%d", effortPrefix, effort))
	}
	if category = strings.TrimSpace(category); category != "" {
		labels = append(labels, category)
	}
	return labels
}

// ParseLabels extracts priority, effort and category from issue labels.
// Unknown labels are ignored; the category is the first label found in the
// allow-list.
func ParseLabels(names, categories []string) (priority, effort int, category string) {
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch {
		case strings.HasPrefix(name, priorityPrefix):
			if v, err := strconv.Atoi(strings.TrimPrefix(name, priorityPrefix)); err == nil {
				priority = v
			}
		case strings.HasPrefix(name, effortPrefix):
			if v, err := strconv.Atoi(strings.TrimPrefix(name, effortPrefix)); err == nil {
				effort = v
			}
		default:
			if category == "" && allowed[strings.ToLower(name)] {
				category = name
			}
		}
	}
	return priority, effort, category
}
