package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
)

const plannerSystemPromptTemplate = `You are the planning stage of a SQL analytics agent. Given a user's
natural-language question about a database, break it into a short, ordered
list of concrete steps using only these tools:

%s

Rules:
- Prefer starting with a schema lookup when the question references tables
  or columns you have not already seen in this conversation.
- Each step should be a single concrete action, not a restatement of the
  whole question.
- Keep the plan short: 1-4 steps is typical; do not pad it.
- Respond with a JSON object of the exact shape {"steps": ["...", "..."]}
  and nothing else.`

// plannerOutput is the strict-JSON-mode shape the planner LLM call must
// produce, spec.md §4.7.
type plannerOutput struct {
	Steps []string `json:"steps"`
}

// Planner issues the single LLM call that turns a user question into a Plan.
type Planner struct {
	provider llmprovider.Provider
	tools    *ToolSet
}

// NewPlanner constructs a Planner.
func NewPlanner(provider llmprovider.Provider, tools *ToolSet) *Planner {
	return &Planner{provider: provider, tools: tools}
}

// Plan asks the LLM for an ordered list of steps to answer userQuery. On
// provider failure or an unparsable response it returns an error; the
// caller (Controller) is responsible for the PLAN_ERROR fallback per
// spec.md §4.7 "Planner failure".
func (p *Planner) Plan(ctx context.Context, userQuery string) (Plan, error) {
	systemPrompt := fmt.Sprintf(plannerSystemPromptTemplate, p.toolMenu())

	result, err := p.provider.Complete(ctx, llmprovider.CompletionRequest{
		Messages: []llmprovider.ConversationMessage{
			{Role: llmprovider.RoleSystem, Content: systemPrompt},
			{Role: llmprovider.RoleUser, Content: userQuery},
		},
		JSONMode: true,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planner completion: %w", err)
	}

	var out plannerOutput
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		return Plan{}, fmt.Errorf("planner returned unparsable plan: %w", err)
	}
	steps := make([]string, 0, len(out.Steps))
	for _, s := range out.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return Plan{}, fmt.Errorf("planner returned an empty plan")
	}
	return Plan{Steps: steps}, nil
}

func (p *Planner) toolMenu() string {
	var b strings.Builder
	for _, def := range p.tools.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String()
}
