package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/workflow"
)

func dep(id string, kind workflow.DependencyKind) workflow.Dependency {
	return workflow.Dependency{StepID: id, Kind: kind}
}

func TestBuild_LinearChain(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepSuccess)}},
		{ID: "C", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("B", workflow.DepSuccess)}},
	}

	g, err := Build(steps)
	require.NoError(t, err)

	levels := g.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"A"}, levels[0])
	assert.Equal(t, []string{"B"}, levels[1])
	assert.Equal(t, []string{"C"}, levels[2])
}

func TestBuild_Diamond(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepCompletion)}},
		{ID: "C", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepCompletion)}},
		{ID: "D", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("B", workflow.DepCompletion), dep("C", workflow.DepCompletion)}},
	}

	g, err := Build(steps)
	require.NoError(t, err)

	levels := g.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"A"}, levels[0])
	assert.ElementsMatch(t, []string{"B", "C"}, levels[1])
	assert.Equal(t, []string{"D"}, levels[2])
}

func TestBuild_RejectsUnknownDependency(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("missing", workflow.DepCompletion)}},
	}

	_, err := Build(steps)
	require.Error(t, err)
}

func TestBuild_RejectsCycle(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("B", workflow.DepCompletion)}},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepCompletion)}},
	}

	_, err := Build(steps)
	require.Error(t, err)
}

func TestReady_DataDependency(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{{StepID: "A", Kind: workflow.DepData, Key: "x"}}},
	}
	g, err := Build(steps)
	require.NoError(t, err)

	completed := map[string]bool{"A": true}
	results := map[string]*workflow.StepResult{
		"A": {StepID: "A", Success: true, OutputData: workflow.ValueMap{"y": workflow.Int(1)}},
	}

	ready, err := g.Ready("B", completed, results)
	require.NoError(t, err)
	assert.False(t, ready, "B requires output key x, which A did not produce")

	results["A"].OutputData["x"] = workflow.Int(1)
	ready, err = g.Ready("B", completed, results)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReady_SuccessDependencyFailsOnFailure(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepSuccess)}},
	}
	g, err := Build(steps)
	require.NoError(t, err)

	completed := map[string]bool{"A": true}
	results := map[string]*workflow.StepResult{"A": {StepID: "A", Success: false}}

	ready, err := g.Ready("B", completed, results)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestReady_ResourceDependency(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{{Kind: workflow.DepResource, Resource: "gpu"}}},
	}

	available := false
	g, err := Build(steps, WithResourcePredicate(func(resource string) bool {
		return resource == "gpu" && available
	}))
	require.NoError(t, err)

	ready, err := g.Ready("A", map[string]bool{}, nil)
	require.NoError(t, err)
	assert.False(t, ready)

	available = true
	ready, err = g.Ready("A", map[string]bool{}, nil)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestAddDynamicDependency_RejectsCycle(t *testing.T) {
	steps := []workflow.StepDefinition{
		{ID: "A", Kind: workflow.StepRemoteTool},
		{ID: "B", Kind: workflow.StepRemoteTool, Dependencies: []workflow.Dependency{dep("A", workflow.DepCompletion)}},
	}
	g, err := Build(steps)
	require.NoError(t, err)

	err = g.AddDynamicDependency("A", dep("B", workflow.DepCompletion))
	assert.Error(t, err)

	// Graph must remain usable after a rejected dynamic edge.
	levels := g.Levels()
	assert.Len(t, levels, 2)
}

func TestEmptyGraph(t *testing.T) {
	g, err := Build(nil)
	require.NoError(t, err)
	assert.Empty(t, g.Levels())
}
