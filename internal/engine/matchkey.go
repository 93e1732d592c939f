package engine

import (
	"strings"
	"unicode"

	"actionline/internal/domain"
)

// Labels analyzers emit when they could not attribute a task to anyone.
// Tasks carrying one of these collapse into the shared unassigned bucket.
var unassignedLabels = map[string]bool{
	"unassigned": true,
	"unknown":    true,
	"none":       true,
	"na":         true,
	"n/a":        true,
	"tbd":        true,
}

// MatchKey derives the stable identity key used for exact task dedup:
// normalized title plus an assignee bucket. Returns "" when the title
// normalizes to nothing, in which case the task has no usable identity.
func MatchKey(t domain.Task) string {
	title := normalizeText(t.Title)
	if title == "" {
		return ""
	}
	return title + "|" + assigneeKey(t.Assignee)
}

// assigneeKey buckets the assignee. Email outranks name because it is the
// strongest identity signal; placeholder names fall through to the shared
// unassigned bucket so unattributed tasks dedup on title alone.
func assigneeKey(a *domain.Assignee) string {
	if a != nil {
		if email := strings.ToLower(strings.TrimSpace(a.Email)); email != "" {
			return "email:" + email
		}
		if name := normalizeText(a.Name); name != "" && !unassignedLabels[name] {
			return "name:" + name
		}
	}
	return "unassigned"
}

// normalizeText lowercases, strips punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
