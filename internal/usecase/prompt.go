package usecase

import (
	"fmt"
	"strings"
	"time"

	"gracebot/internal/domain"
)

// sectionSeparator joins prompt sections.
const sectionSeparator = "\n\n---\n\n"

// PromptBuilder assembles the system prompt from the agent context. All
// prompt content is English regardless of the chat language.
type PromptBuilder struct {
	now func() time.Time
}

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{now: time.Now}
}

// Build renders the system prompt: identity, then optional persona, user
// profile, skills, memories, and the tool usage guidance.
func (p *PromptBuilder) Build(actx *domain.AgentContext) string {
	var sections []string

	var guidance string
	if len(actx.Tools) == 0 {
		guidance = "Reply directly and concisely. Do not call any tools."
	} else {
		guidance = "Reply concisely. Use tools only when needed (e.g. run commands, read/write files, search, or remember facts)."
	}
	sections = append(sections, fmt.Sprintf("# Identity\nYou are GraceBot.\nCurrent time: %s\n%s\n",
		p.now().UTC().Format(time.RFC3339), guidance))

	if actx.Soul != "" {
		sections = append(sections, "# Persona (SOUL)\n"+actx.Soul)
	}
	if actx.UserProfile != "" {
		sections = append(sections, "# About the current user\n"+actx.UserProfile)
	}
	if len(actx.Skills) > 0 {
		sections = append(sections, "# Skills")
		for _, skill := range actx.Skills {
			sections = append(sections, fmt.Sprintf("## %s\n%s", skill.Name, skill.Content))
		}
	}
	if len(actx.Memories) > 0 {
		sections = append(sections, "# Relevant memories (from past conversations)")
		for _, mem := range actx.Memories {
			sections = append(sections, fmt.Sprintf("- [%s] %s", mem.CreatedAt, mem.Content))
		}
	}
	if len(actx.Tools) > 0 {
		sections = append(sections, "# Available tools\nUse the following tools only when necessary; for simple Q&A, reply directly.")
	} else {
		sections = append(sections, "# Available tools\nNone for now.")
	}

	return strings.Join(sections, sectionSeparator)
}
