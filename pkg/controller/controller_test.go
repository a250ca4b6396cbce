package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
	"github.com/dataworks-io/sqlgate/pkg/models"
	"github.com/dataworks-io/sqlgate/pkg/tool"
)

// fakeTool is a no-op tool.Tool used only so ToolSet.Definitions() has
// something to enumerate in the planner/replanner/executor prompts.
type fakeTool struct{ name string }

func (f fakeTool) Name() string        { return f.name }
func (f fakeTool) Class() tool.Class   { return models.ToolClassSQL }
func (f fakeTool) Description() string { return "a fake tool for tests" }
func (f fakeTool) Invoke(ctx context.Context, args json.RawMessage) (tool.Envelope, error) {
	return tool.SuccessText("fake result"), nil
}

func newTestToolSet() *ToolSet {
	return NewToolSet(fakeTool{name: "query_database"})
}

// fakeProvider routes each Complete call to planFn/execFn/replanFn based on
// which stage's system prompt is present, so one provider can stand in for
// all three LLM call sites.
type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	planFn   func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error)
	execFn   func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error)
	replanFn func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error)
}

func (f *fakeProvider) Complete(ctx context.Context, req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	sys := ""
	if len(req.Messages) > 0 {
		sys = req.Messages[0].Content
	}
	switch {
	case strings.Contains(sys, "replanning stage"):
		return f.replanFn(req)
	case strings.Contains(sys, "planning stage"):
		return f.planFn(req)
	default:
		return f.execFn(req)
	}
}

func jsonResult(v string) llmprovider.CompletionResult {
	return llmprovider.CompletionResult{Content: v}
}

type fakeErrorRecorder struct {
	mu      sync.Mutex
	entries []models.ErrorLog
}

func (f *fakeErrorRecorder) RecordError(ctx context.Context, e models.ErrorLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeErrorRecorder) codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.CodeName
	}
	return out
}

func buildController(t *testing.T, provider *fakeProvider, errRecorder ErrorRecorder, maxIterations int) *Controller {
	t.Helper()
	tools := newTestToolSet()
	planner := NewPlanner(provider, tools)
	executor := NewExecutor(provider, tools)
	replanner := NewReplanner(provider, tools)
	return NewController(planner, executor, replanner, errRecorder, maxIterations)
}

func TestController_PlanExecuteRespondFlow(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":["look up the orders table"]}`), nil
		},
		execFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult("the orders table has 4 columns"), nil
		},
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"action":"respond","response":"The orders table has 4 columns."}`), nil
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, DefaultMaxIterations)

	result := c.Run(context.Background(), "req-1", "describe the orders table")

	assert.Equal(t, "The orders table has 4 columns.", result.Response)
	assert.Equal(t, 1, result.PlanSteps)
	assert.Equal(t, 1, result.ExecutedSteps)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, errRecorder.codes())
}

func TestController_PlannerFailureProducesFallbackAndRecordsError(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return llmprovider.CompletionResult{}, fmt.Errorf("provider unreachable")
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, DefaultMaxIterations)

	result := c.Run(context.Background(), "req-2", "how many rows in orders")

	assert.Contains(t, result.Response, "plan")
	assert.Equal(t, 0, result.ExecutedSteps)
	require.Len(t, errRecorder.codes(), 1)
	assert.Equal(t, "PLAN_ERROR", errRecorder.codes()[0])
}

func TestController_ExecutorFailureFailsForwardAndRecordsError(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":["run a query"]}`), nil
		},
		execFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return llmprovider.CompletionResult{}, fmt.Errorf("connection refused")
		},
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"action":"respond","response":"I could not complete the query."}`), nil
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, DefaultMaxIterations)

	result := c.Run(context.Background(), "req-3", "run a query")

	assert.Equal(t, "I could not complete the query.", result.Response)
	assert.Equal(t, 1, result.ExecutedSteps)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, errRecorder.codes(), 1)
	assert.Equal(t, "EXEC_ERROR", errRecorder.codes()[0])
}

func TestController_IterationCapTerminatesWithFallback(t *testing.T) {
	const maxIterations = 3
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":["keep digging"]}`), nil
		},
		execFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult("found something inconclusive"), nil
		},
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			// Never satisfied: always asks for another step, to exercise the cap.
			return jsonResult(`{"action":"plan","steps":["keep digging more"]}`), nil
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, maxIterations)

	result := c.Run(context.Background(), "req-4", "an unanswerable question")

	assert.Equal(t, maxIterations, result.Iterations)
	assert.LessOrEqual(t, result.ExecutedSteps, maxIterations)
	assert.Contains(t, result.Response, "step limit")
	assert.Empty(t, errRecorder.codes())
}

func TestController_ReplannerFailureProducesFallback(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":["check the schema"]}`), nil
		},
		execFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult("schema checked"), nil
		},
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return llmprovider.CompletionResult{}, fmt.Errorf("provider unreachable")
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, DefaultMaxIterations)

	result := c.Run(context.Background(), "req-5", "describe the schema")

	assert.Equal(t, 1, result.ExecutedSteps)
	assert.Contains(t, result.Response, "schema checked")
	require.Len(t, errRecorder.codes(), 1)
	assert.Equal(t, "REPLAN_ERROR", errRecorder.codes()[0])
}

func TestController_ContextCancellationStopsDeliberation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":["a step"]}`), nil
		},
	}
	errRecorder := &fakeErrorRecorder{}
	c := buildController(t, provider, errRecorder, DefaultMaxIterations)

	result := c.Run(ctx, "req-6", "a question")

	assert.Contains(t, result.Response, "cancelled")
}
