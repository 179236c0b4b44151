// Package handoff parses an agent's raw textual output into structured
// fields and renders the context preamble handed to the next pipeline step.
package handoff

import (
	"errors"
	"strings"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

// ErrNotExtracted is returned when no recognized heading yielded any
// non-empty field, or the input was empty/whitespace-only.
var ErrNotExtracted = errors.New("handoff: not extracted")

// fieldNames maps a normalized heading (lower-cased, non-alphanumerics
// stripped) to the HandoffSchema field it populates.
var fieldNames = map[string]string{
	"whatwasdone":      "what_was_done",
	"decisionsmade":    "decisions_made",
	"openquestions":    "open_questions",
	"nextagentcontext": "next_agent_context",
}

// Extract parses raw into a HandoffSchema. Returns ErrNotExtracted if every
// field is empty after parsing, or if raw is empty/whitespace-only.
func Extract(raw string) (models.HandoffSchema, error) {
	if strings.TrimSpace(raw) == "" {
		return models.HandoffSchema{}, ErrNotExtracted
	}

	lines := strings.Split(raw, "\n")
	found := make(map[string]string, len(fieldNames))

	var currentField string
	var currentFieldSet bool
	var buf strings.Builder

	flush := func() {
		if !currentFieldSet {
			return
		}
		if _, already := found[currentField]; !already {
			found[currentField] = strings.TrimSpace(buf.String())
		}
	}

	for _, line := range lines {
		if heading, ok := headingText(line); ok {
			flush()
			buf.Reset()
			currentFieldSet = false

			normalized := normalizeHeading(heading)
			if field, ok := fieldNames[normalized]; ok {
				currentField = field
				currentFieldSet = true
			}
			continue
		}
		if currentFieldSet {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()

	schema := models.HandoffSchema{
		WhatWasDone:      found["what_was_done"],
		DecisionsMade:    found["decisions_made"],
		OpenQuestions:    found["open_questions"],
		NextAgentContext: found["next_agent_context"],
	}
	if schema.IsEmpty() {
		return models.HandoffSchema{}, ErrNotExtracted
	}
	return schema, nil
}

// headingText reports whether line is a Markdown heading (one or more '#'
// followed by whitespace) and returns the heading text with the marker
// stripped.
func headingText(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	if i == 0 || i >= len(trimmed) {
		return "", false
	}
	rest := trimmed[i:]
	if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// normalizeHeading lower-cases heading and strips every non-alphanumeric
// rune so headings match regardless of punctuation or casing.
func normalizeHeading(heading string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(heading) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
