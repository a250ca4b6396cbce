package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
)

// DefaultMaxIterations bounds the number of executor invocations a single
// Run performs before falling back to a best-effort response, spec.md §5
// "Bounded deliberation".
const DefaultMaxIterations = 15

// ErrorRecorder is the narrow telemetry dependency the controller needs:
// recording its own stable-coded failures (PLAN_ERROR, EXEC_ERROR,
// REPLAN_ERROR), independent of the broader Recorder's full surface.
type ErrorRecorder interface {
	RecordError(ctx context.Context, e models.ErrorLog)
}

// Result is everything the dispatcher needs out of one Run, for both the
// MCP response body and the agent_execution_log row.
type Result struct {
	Response        string
	PlanSteps       int
	ExecutedSteps   int
	Iterations      int
	ToolInvocations []ToolInvocation
}

// Controller drives the bounded Plan-Execute-Replan deliberation loop,
// spec.md §4.7-§4.9, grounded on the teacher's
// pkg/agent/controller/iterating.go loop-with-forced-conclusion shape.
type Controller struct {
	planner       *Planner
	executor      *Executor
	replanner     *Replanner
	errRecorder   ErrorRecorder
	maxIterations int
}

// NewController constructs a Controller. maxIterations <= 0 selects
// DefaultMaxIterations.
func NewController(planner *Planner, executor *Executor, replanner *Replanner, errRecorder ErrorRecorder, maxIterations int) *Controller {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Controller{
		planner:       planner,
		executor:      executor,
		replanner:     replanner,
		errRecorder:   errRecorder,
		maxIterations: maxIterations,
	}
}

// Run drives one data_agent invocation to completion. It always returns a
// Result with a non-empty Response — planner, executor, and replanner
// failures are all absorbed into a fallback response rather than
// propagated as Go errors, matching spec.md §7's "the user always gets an
// answer" guarantee. The only way Run returns early without attempting
// further steps is ctx cancellation, handled the same way.
func (c *Controller) Run(ctx context.Context, requestID, userQuery string) Result {
	result := Result{}

	plan, err := c.planner.Plan(ctx, userQuery)
	if err != nil {
		c.recordError(ctx, requestID, apierr.CodePlanError, err, "Plan")
		result.Response = "I wasn't able to put together a plan for that question. Could you rephrase it or provide more detail?"
		return result
	}
	result.PlanSteps = len(plan.Steps)

	var pastSteps []PastStep
	var errs []string
	stepIndex := 0
	execCount := 0
	safetyValve := 2*c.maxIterations + 10

	finish := func(response string) Result {
		result.Response = response
		result.ExecutedSteps = len(pastSteps)
		result.Iterations = execCount
		return result
	}

	for pass := 0; pass < safetyValve; pass++ {
		if ctx.Err() != nil {
			return finish("The request was cancelled before it could complete.")
		}

		if stepIndex < len(plan.Steps) {
			stepText := plan.Steps[stepIndex]
			stepResult, invocations, execErr := c.executor.ExecuteStep(ctx, plan, stepIndex)
			execCount++
			result.ToolInvocations = append(result.ToolInvocations, invocations...)
			if execErr != nil {
				c.recordError(ctx, requestID, apierr.CodeExecError, execErr, "ExecuteStep")
				pastSteps = append(pastSteps, PastStep{Task: stepText, Result: "⚠️ step failed: " + execErr.Error()})
				errs = append(errs, execErr.Error())
			} else {
				pastSteps = append(pastSteps, PastStep{Task: stepText, Result: stepResult})
			}
			// Fail-forward: step_index advances whether or not the step
			// succeeded, spec.md §8 property 5.
			stepIndex++
		}

		// MAX_ITERATIONS is checked here, ahead of the replanner call, so a
		// deliberation that has already spent its budget never pays for one
		// more LLM round trip before the cap takes effect (spec.md §4.9).
		if execCount >= c.maxIterations {
			return finish(c.capFallback(pastSteps, errs))
		}

		act, err := c.replanner.Replan(ctx, userQuery, plan, pastSteps, errs)
		if err != nil {
			c.recordError(ctx, requestID, apierr.CodeReplanError, err, "Replan")
			return finish(c.capFallback(pastSteps, errs))
		}

		switch act.Kind() {
		case ActKindResponse:
			return finish(act.Response())
		case ActKindPlan:
			plan = Plan{Steps: act.Steps()}
			stepIndex = 0
		}
	}

	return finish(c.capFallback(pastSteps, errs))
}

func (c *Controller) recordError(ctx context.Context, requestID string, code apierr.Code, err error, function string) {
	if c.errRecorder == nil {
		return
	}
	c.errRecorder.RecordError(ctx, models.ErrorLog{
		RequestID: requestID,
		Code:      int(code),
		CodeName:  code.Name(),
		Message:   err.Error(),
		Component: "controller",
		Function:  function,
	})
}

// capFallback synthesizes a best-effort response out of whatever steps
// completed, for when the deliberation loop is cut off by the iteration
// cap or a replanner failure, spec.md §8 scenario S4.
func (c *Controller) capFallback(pastSteps []PastStep, errs []string) string {
	if len(pastSteps) == 0 {
		return "I wasn't able to make progress on this question. Please try again or narrow the request."
	}
	var b strings.Builder
	b.WriteString("I reached my step limit while working on this, but here is what I found so far:\n\n")
	for i, ps := range pastSteps {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, ps.Task, ps.Result)
	}
	if len(errs) > 0 {
		b.WriteString("\nSome steps did not complete successfully, so this answer may be incomplete.")
	}
	return b.String()
}
