package handoff

import (
	"fmt"
	"strings"

	"github.com/DavidSchwarz2/agentpipe/internal/models"
)

// preambleField pairs a schema field's value with its rendered label, in a
// fixed display order.
type preambleField struct {
	label string
	value string
}

// ToPreamble renders schema as the Markdown context block injected as the
// next step's prompt. prevAgentName, when non-empty, is appended to the
// heading as "(<prevAgentName>)". Empty fields are omitted entirely.
func ToPreamble(schema models.HandoffSchema, prevAgentName string) string {
	var b strings.Builder
	b.WriteString("## Handoff from previous step")
	if prevAgentName != "" {
		fmt.Fprintf(&b, " (%s)", prevAgentName)
	}
	b.WriteString("\n")

	fields := []preambleField{
		{"What was done", schema.WhatWasDone},
		{"Decisions made", schema.DecisionsMade},
		{"Open questions", schema.OpenQuestions},
		{"Next agent context", schema.NextAgentContext},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n\n%s\n", f.label, f.value)
	}
	return b.String()
}
