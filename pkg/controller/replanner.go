package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
)

const replannerSystemPromptTemplate = `You are the replanning stage of a SQL analytics agent. Given the
original question, the current plan, and what has been completed so far,
decide whether to:

(a) respond to the user now, because enough information has been gathered
    or no further step can help, or
(b) continue with a revised plan of remaining steps.

Tools available to future steps:
%s

Respond with a JSON object of exactly one of these two shapes:
  {"action": "respond", "response": "final answer text"}
  {"action": "plan", "steps": ["...", "..."]}
and nothing else.`

type replannerOutput struct {
	Action   string   `json:"action"`
	Response string   `json:"response"`
	Steps    []string `json:"steps"`
}

// Replanner decides, after each executed step, whether to terminate with a
// response or continue with a revised plan (spec.md §4.9).
type Replanner struct {
	provider llmprovider.Provider
	tools    *ToolSet
}

// NewReplanner constructs a Replanner.
func NewReplanner(provider llmprovider.Provider, tools *ToolSet) *Replanner {
	return &Replanner{provider: provider, tools: tools}
}

// Replan asks the LLM to judge the accumulated past steps and errors and
// returns the resulting Act. A provider or parse failure is returned as an
// error; the caller synthesizes the REPLAN_ERROR fallback.
func (r *Replanner) Replan(ctx context.Context, userQuery string, plan Plan, pastSteps []PastStep, errs []string) (Act, error) {
	systemPrompt := fmt.Sprintf(replannerSystemPromptTemplate, r.toolMenu())

	var b strings.Builder
	fmt.Fprintf(&b, "Original question: %s\n\n", userQuery)
	fmt.Fprintf(&b, "Current plan:\n%s\n", renderPlan(plan))
	fmt.Fprintf(&b, "Completed so far:\n")
	for i, ps := range pastSteps {
		fmt.Fprintf(&b, "%d. %s -> %s\n", i+1, ps.Task, ps.Result)
	}
	if len(errs) > 0 {
		fmt.Fprintf(&b, "\nErrors encountered:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	result, err := r.provider.Complete(ctx, llmprovider.CompletionRequest{
		Messages: []llmprovider.ConversationMessage{
			{Role: llmprovider.RoleSystem, Content: systemPrompt},
			{Role: llmprovider.RoleUser, Content: b.String()},
		},
		JSONMode: true,
	})
	if err != nil {
		return Act{}, fmt.Errorf("replanner completion: %w", err)
	}

	var out replannerOutput
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		return Act{}, fmt.Errorf("replanner returned unparsable act: %w", err)
	}

	switch out.Action {
	case "respond":
		if strings.TrimSpace(out.Response) == "" {
			return Act{}, fmt.Errorf("replanner returned an empty response")
		}
		return NewResponseAct(out.Response), nil
	case "plan":
		steps := make([]string, 0, len(out.Steps))
		for _, s := range out.Steps {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
		if len(steps) == 0 {
			return Act{}, fmt.Errorf("replanner returned an empty revised plan")
		}
		return NewPlanAct(steps), nil
	default:
		return Act{}, fmt.Errorf("replanner returned unrecognized action %q", out.Action)
	}
}

func (r *Replanner) toolMenu() string {
	var b strings.Builder
	for _, def := range r.tools.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String()
}
