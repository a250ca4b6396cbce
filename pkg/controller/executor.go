package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
)

// tracer emits one span per tool invocation, alongside the dispatcher's
// one span per data_agent request (SPEC_FULL.md DOMAIN STACK).
var tracer = otel.Tracer("github.com/dataworks-io/sqlgate/pkg/controller")

// maxStepIterations bounds the tool-calling sub-agent loop run for a single
// plan step, independent of the outer MAX_ITERATIONS bound on the whole
// deliberation (spec.md §4.8, grounded on the teacher's forced-conclusion
// loop in pkg/agent/controller/iterating.go).
const maxStepIterations = 8

const executorSystemPromptTemplate = `You are executing one step of a multi-step plan to answer a database
question. The full plan is:

%s

You are currently on step %d: %s

Use the available tools as needed to complete this step, then reply with a
concise plain-text summary of what you found. Do not repeat the whole plan
back; report only this step's result.`

// Executor runs the tool-calling sub-agent for a single plan step.
type Executor struct {
	provider llmprovider.Provider
	tools    *ToolSet
}

// NewExecutor constructs an Executor.
func NewExecutor(provider llmprovider.Provider, tools *ToolSet) *Executor {
	return &Executor{provider: provider, tools: tools}
}

// ToolInvocation records one tool call made while executing a step, for the
// dispatcher's telemetry and for spec.md §8 property 7 ("Telemetry
// completeness").
type ToolInvocation struct {
	Name       string
	Arguments  string
	Result     string
	Class      string
	DurationMS int64
}

// ExecuteStep runs the sub-agent loop to completion for one step and
// returns its result text plus every tool call it made. An error return
// means the sub-agent itself failed irrecoverably (e.g. the provider is
// unreachable); a tool returning a failure envelope is NOT an error here —
// that is surfaced to the LLM as a tool result and the loop continues,
// matching spec.md §7's "tool failures are recoverable, agent failures are
// not" distinction.
func (e *Executor) ExecuteStep(ctx context.Context, plan Plan, stepIndex int) (string, []ToolInvocation, error) {
	step := plan.Steps[stepIndex]
	systemPrompt := fmt.Sprintf(executorSystemPromptTemplate, renderPlan(plan), stepIndex+1, step)

	messages := []llmprovider.ConversationMessage{
		{Role: llmprovider.RoleSystem, Content: systemPrompt},
		{Role: llmprovider.RoleUser, Content: step},
	}
	defs := e.tools.Definitions()

	var invocations []ToolInvocation
	for i := 0; i < maxStepIterations; i++ {
		result, err := e.provider.Complete(ctx, llmprovider.CompletionRequest{
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return "", invocations, fmt.Errorf("executor completion (step %d, iteration %d): %w", stepIndex, i, err)
		}

		if len(result.ToolCalls) == 0 {
			return strings.TrimSpace(result.Content), invocations, nil
		}

		messages = append(messages, llmprovider.ConversationMessage{
			Role:      llmprovider.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			toolCtx, span := tracer.Start(ctx, "tool.Invoke", trace.WithAttributes(
				attribute.String("tool.name", call.Name),
				attribute.String("tool.class", string(e.tools.ClassOf(call.Name))),
			))
			start := time.Now()
			envelope, err := e.tools.Invoke(toolCtx, call)
			if err != nil {
				span.RecordError(err)
				span.End()
				return "", invocations, fmt.Errorf("invoking tool %q: %w", call.Name, err)
			}
			span.End()
			invocations = append(invocations, ToolInvocation{
				Name:       call.Name,
				Arguments:  call.Arguments,
				Result:     envelope.JSON(),
				Class:      string(e.tools.ClassOf(call.Name)),
				DurationMS: time.Since(start).Milliseconds(),
			})
			messages = append(messages, llmprovider.ConversationMessage{
				Role:       llmprovider.RoleTool,
				Content:    envelope.JSON(),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	// Forced conclusion: the sub-agent kept calling tools without
	// converging. Ask once more, with tools withheld, for a best-effort
	// summary rather than looping indefinitely.
	messages = append(messages, llmprovider.ConversationMessage{
		Role:    llmprovider.RoleUser,
		Content: "Summarize your findings for this step now, in plain text.",
	})
	result, err := e.provider.Complete(ctx, llmprovider.CompletionRequest{Messages: messages})
	if err != nil {
		return "", invocations, fmt.Errorf("executor forced conclusion (step %d): %w", stepIndex, err)
	}
	return strings.TrimSpace(result.Content), invocations, nil
}

func renderPlan(plan Plan) string {
	var b strings.Builder
	for i, s := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}
