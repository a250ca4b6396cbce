package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
)

func TestReplanner_RespondActionReturnsResponseAct(t *testing.T) {
	provider := &fakeProvider{
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"action":"respond","response":"final answer"}`), nil
		},
	}
	r := NewReplanner(provider, newTestToolSet())

	act, err := r.Replan(context.Background(), "q", Plan{Steps: []string{"s1"}}, []PastStep{{Task: "s1", Result: "r1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActKindResponse, act.Kind())
	assert.Equal(t, "final answer", act.Response())
}

func TestReplanner_PlanActionReturnsPlanAct(t *testing.T) {
	provider := &fakeProvider{
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"action":"plan","steps":["next step"]}`), nil
		},
	}
	r := NewReplanner(provider, newTestToolSet())

	act, err := r.Replan(context.Background(), "q", Plan{Steps: []string{"s1"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ActKindPlan, act.Kind())
	assert.Equal(t, []string{"next step"}, act.Steps())
}

func TestReplanner_UnrecognizedActionIsAnError(t *testing.T) {
	provider := &fakeProvider{
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"action":"???"}`), nil
		},
	}
	r := NewReplanner(provider, newTestToolSet())

	_, err := r.Replan(context.Background(), "q", Plan{Steps: []string{"s1"}}, nil, nil)
	assert.Error(t, err)
}

func TestReplanner_ProviderErrorPropagates(t *testing.T) {
	provider := &fakeProvider{
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return llmprovider.CompletionResult{}, fmt.Errorf("down")
		},
	}
	r := NewReplanner(provider, newTestToolSet())

	_, err := r.Replan(context.Background(), "q", Plan{Steps: []string{"s1"}}, nil, nil)
	assert.Error(t, err)
}

func TestReplanner_RenderedPromptIncludesErrors(t *testing.T) {
	var captured string
	provider := &fakeProvider{
		replanFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			captured = req.Messages[1].Content
			return jsonResult(`{"action":"respond","response":"ok"}`), nil
		},
	}
	r := NewReplanner(provider, newTestToolSet())

	_, err := r.Replan(context.Background(), "q", Plan{Steps: []string{"s1"}}, nil, []string{"boom"})
	require.NoError(t, err)
	assert.Contains(t, captured, "boom")
}
