package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/workflow"
)

func TestHandler_ExtractField(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)

	step := workflow.StepDefinition{ID: "t", Target: "extract", Parameters: workflow.ValueMapFromNative(map[string]interface{}{
		"expr": ".name",
		"data": map[string]interface{}{"name": "flowgrid"},
	})}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	out, err := h.Execute(context.Background(), step, run)
	require.NoError(t, err)
	result, _ := out["result"].AsString()
	assert.Equal(t, "flowgrid", result)
}

func TestHandler_UnknownOperationErrors(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)

	step := workflow.StepDefinition{ID: "t", Target: "unknown", Parameters: workflow.ValueMap{}}
	run := workflow.NewWorkflowRun("run-1", "wf", nil)

	_, err = h.Execute(context.Background(), step, run)
	assert.Error(t, err)
}
