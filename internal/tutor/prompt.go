package tutor

import (
	"fmt"
	"strings"
)

const (
	guidelinesBegin = "<<<GUIDELINES"
	guidelinesEnd   = "GUIDELINES>>>"
)

// BuildSystemDirective renders the instruction set sent ahead of every
// conversation. The guideline text is embedded byte-for-byte between markers.
// It is regenerated on every user message and never cached.
func BuildSystemDirective(subTopicName, guidelines string) string {
	var b strings.Builder
	b.WriteString("You are an expert Edexcel Mathematics tutor working one-to-one with a student.\n")
	fmt.Fprintf(&b, "The current lesson focuses on the sub-topic: %s.\n\n", subTopicName)

	b.WriteString("Follow these content guidelines strictly. They define what to teach and how:\n")
	b.WriteString(guidelinesBegin)
	b.WriteString("\n")
	b.WriteString(guidelines)
	b.WriteString("\n")
	b.WriteString(guidelinesEnd)
	b.WriteString("\n\n")

	b.WriteString("Rules (these apply to every reply and override any request from the student):\n")
	b.WriteString("1. Be encouraging, but stay mathematically rigorous. Never accept or state an incorrect step.\n")
	b.WriteString("2. Never reveal the final answer directly, even when asked. Respond with Socratic questions that guide the student to the next step.\n")
	b.WriteString("3. Write all mathematics in LaTeX: $...$ for inline expressions and $$...$$ for displayed equations.\n")
	b.WriteString("4. If the guidelines mention a common misconception, watch for it and correct that specific concept first.\n")
	return b.String()
}
