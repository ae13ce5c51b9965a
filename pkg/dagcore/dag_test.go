package dagcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeenode/pkg/models"
)

func job(id string, deps ...string) models.JobDefinition {
	return models.JobDefinition{ID: id, Name: id, Kind: models.JobKindCommand, Payload: "true", Dependencies: deps}
}

func buildWorkflow(jobs ...models.JobDefinition) *models.WorkflowDefinition {
	w := &models.WorkflowDefinition{Name: "wf", Jobs: jobs}
	w.AssignSequence()
	return w
}

func TestValidate_AcceptsLinearChain(t *testing.T) {
	w := buildWorkflow(job("a"), job("b", "a"), job("c", "b"))
	g := Build(w.Jobs)
	ok, errs := g.Validate(models.ResourceLimits{})
	require.True(t, ok, errs)
	assert.Empty(t, errs)
}

func TestValidate_DetectsCycle(t *testing.T) {
	w := buildWorkflow(job("a", "c"), job("b", "a"), job("c", "b"))
	g := Build(w.Jobs)
	ok, errs := g.Validate(models.ResourceLimits{})
	require.False(t, ok)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if strings.Contains(e, "circular dependency") {
			found = true
		}
	}
	assert.True(t, found, "expected cycle error, got %v", errs)
}

func TestValidate_DetectsSelfDependency(t *testing.T) {
	w := buildWorkflow(job("a", "a"))
	g := Build(w.Jobs)
	ok, errs := g.Validate(models.ResourceLimits{})
	require.False(t, ok)
	assert.Contains(t, errs[0], "cannot depend on itself")
}

func TestValidate_DetectsUnknownDependency(t *testing.T) {
	w := buildWorkflow(job("a", "ghost"))
	g := Build(w.Jobs)
	ok, errs := g.Validate(models.ResourceLimits{})
	require.False(t, ok)
	assert.Contains(t, errs[0], "non-existent job")
}

func TestValidate_FlagsReservationAboveGlobalCeiling(t *testing.T) {
	j := job("a")
	j.Limits.MaxMemoryMB = 4096
	w := buildWorkflow(j)
	g := Build(w.Jobs)
	ok, errs := g.Validate(models.ResourceLimits{MaxMemoryMB: 1024})
	require.False(t, ok)
	assert.Contains(t, errs[0], "exceeds the global ceiling")
}

func TestMetadata_Diamond(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	w := buildWorkflow(job("a"), job("b", "a"), job("c", "a"), job("d", "b", "c"))
	g := Build(w.Jobs)
	ok, _ := g.Validate(models.ResourceLimits{})
	require.True(t, ok)

	meta := g.Metadata()
	assert.Equal(t, 4, meta.TotalJobs)
	assert.Equal(t, 3, meta.Levels)
	assert.Equal(t, 2, meta.CriticalPathLength)
	assert.Equal(t, 2, meta.MaxParallelism)
	assert.False(t, meta.HasCycles)
}

func TestReady_RespectsCompletedAndTieBreak(t *testing.T) {
	w := buildWorkflow(job("a"), job("b"), job("c", "a", "b"))
	g := Build(w.Jobs)
	ok, _ := g.Validate(models.ResourceLimits{})
	require.True(t, ok)

	pending := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	ready := g.Ready(map[string]struct{}{}, map[string]struct{}{}, pending)
	assert.Equal(t, []string{"a", "b"}, ready)

	completed := map[string]struct{}{"a": {}, "b": {}}
	delete(pending, "a")
	delete(pending, "b")
	ready = g.Ready(completed, map[string]struct{}{}, pending)
	assert.Equal(t, []string{"c"}, ready)
}

func TestBlockedPending_PropagatesThroughUnreachable(t *testing.T) {
	w := buildWorkflow(job("a"), job("b", "a"), job("c", "b"))
	g := Build(w.Jobs)
	ok, _ := g.Validate(models.ResourceLimits{})
	require.True(t, ok)

	unreachable := map[string]struct{}{"a": {}}
	pending := map[string]struct{}{"b": {}, "c": {}}
	blocked := g.BlockedPending(pending, unreachable)
	assert.Equal(t, []string{"b"}, blocked)
}

func TestTransitiveDependentsAndDependencies(t *testing.T) {
	w := buildWorkflow(job("a"), job("b", "a"), job("c", "b"), job("d"))
	g := Build(w.Jobs)
	ok, _ := g.Validate(models.ResourceLimits{})
	require.True(t, ok)

	dependents := g.TransitiveDependents("a")
	assert.Contains(t, dependents, "b")
	assert.Contains(t, dependents, "c")
	assert.NotContains(t, dependents, "d")

	deps := g.TransitiveDependencies("c")
	assert.Contains(t, deps, "a")
	assert.Contains(t, deps, "b")
}
