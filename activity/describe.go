package activity

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders the human-readable text the embedding stage indexes.
func Describe(c Canonical) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "activity"
	}
	parts := []string{fmt.Sprintf("%s, %s to %s (%s): '%s'.",
		c.Start.Format("Monday, January 2, 2006"),
		c.Start.Format("3:04 PM"),
		c.End.Format("3:04 PM"),
		FormatDuration(c.Duration()),
		title,
	)}

	if c.Category != "" {
		parts = append(parts, fmt.Sprintf("Category: %s.", c.Category))
	}

	var workTags []string
	switch a := c.Attributes.(type) {
	case Learning:
		if a.Extracted() {
			parts = append(parts, fmt.Sprintf("Method: %s. Target: %s.", a.Method, a.Target))
		}
	case Productivity:
		workTags = a.WorkTags
		if len(workTags) > 0 {
			parts = append(parts, fmt.Sprintf("Work tags: %s.", strings.Join(workTags, ", ")))
		}
	case Exercise:
		parts = append(parts, fmt.Sprintf("Exercise type: %s.", a.Type))
	case Recovery:
		if a.RiskyRecharger {
			parts = append(parts, "Instant-gratification recharge.")
		}
	}

	if sub := strings.TrimSpace(c.SubLabel); sub != "" {
		parts = append(parts, fmt.Sprintf("Sub-category: %s.", sub))
	}

	if rest := without(c.Tags, workTags); len(rest) > 0 {
		parts = append(parts, fmt.Sprintf("Tags: %s.", strings.Join(rest, ", ")))
	}

	if notes := strings.TrimSpace(c.Notes); notes != "" {
		parts = append(parts, "Notes: "+notes)
	}
	return strings.Join(parts, " ")
}

// FormatDuration renders whole minutes as "2h 30m", "2h" or "45m".
func FormatDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	h, m := minutes/60, minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func without(tags, drop []string) []string {
	if len(drop) == 0 {
		return tags
	}
	skip := make(map[string]struct{}, len(drop))
	for _, t := range drop {
		skip[t] = struct{}{}
	}
	var out []string
	for _, t := range tags {
		if _, ok := skip[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}
