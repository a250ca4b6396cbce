package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataworks-io/sqlgate/pkg/llmprovider"
)

func TestPlanner_ParsesStepsAndTrimsBlanks(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			assert.True(t, req.JSONMode)
			return jsonResult(`{"steps":["  first step  ", "", "second step"]}`), nil
		},
	}
	p := NewPlanner(provider, newTestToolSet())

	plan, err := p.Plan(context.Background(), "what tables exist")
	require.NoError(t, err)
	assert.Equal(t, []string{"first step", "second step"}, plan.Steps)
}

func TestPlanner_EmptyPlanIsAnError(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult(`{"steps":[]}`), nil
		},
	}
	p := NewPlanner(provider, newTestToolSet())

	_, err := p.Plan(context.Background(), "x")
	assert.Error(t, err)
}

func TestPlanner_UnparsableResponseIsAnError(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return jsonResult("not json"), nil
		},
	}
	p := NewPlanner(provider, newTestToolSet())

	_, err := p.Plan(context.Background(), "x")
	assert.Error(t, err)
}

func TestPlanner_ProviderErrorPropagates(t *testing.T) {
	provider := &fakeProvider{
		planFn: func(req llmprovider.CompletionRequest) (llmprovider.CompletionResult, error) {
			return llmprovider.CompletionResult{}, fmt.Errorf("down")
		},
	}
	p := NewPlanner(provider, newTestToolSet())

	_, err := p.Plan(context.Background(), "x")
	assert.Error(t, err)
}
