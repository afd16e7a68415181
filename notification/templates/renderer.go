// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package templates

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/StorXNetwork/StorXNotify/notification/message"
)

// placeholder matches {{name}} with optional spaces inside the braces.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render renders the template with the variables. Template defaults are used
// for variables the caller did not supply. Placeholders without a value are
// left untouched.
func Render(template Template, variables map[string]interface{}) message.Content {
	merged := MergeVariables(template.DefaultVariables, variables)

	return message.Content{
		Title:       RenderString(template.TitleTemplate, merged),
		Body:        RenderString(template.BodyTemplate, merged),
		Priority:    template.Priority,
		Sound:       template.Sound,
		Icon:        template.Icon,
		ClickAction: RenderString(template.ClickAction, merged),
	}
}

// RenderString substitutes {{name}} placeholders in pattern.
func RenderString(pattern string, variables map[string]interface{}) string {
	if pattern == "" || len(variables) == 0 {
		return pattern
	}
	return placeholder.ReplaceAllStringFunc(pattern, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		value, ok := variables[name]
		if !ok || value == nil {
			return match
		}
		return fmt.Sprint(value)
	})
}

// Missing returns the sorted names of placeholders in the template that have
// neither a default nor a supplied value.
func Missing(template Template, variables map[string]interface{}) []string {
	merged := MergeVariables(template.DefaultVariables, variables)

	seen := map[string]bool{}
	var missing []string
	for _, pattern := range []string{template.TitleTemplate, template.BodyTemplate, template.ClickAction} {
		for _, match := range placeholder.FindAllStringSubmatch(pattern, -1) {
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			if value, ok := merged[name]; !ok || value == nil {
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// MergeVariables merges variable sets, later sets override earlier ones.
func MergeVariables(sets ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, set := range sets {
		for k, v := range set {
			merged[k] = v
		}
	}
	return merged
}
