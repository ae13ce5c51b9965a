package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeenode/pkg/models"
)

func TestReserve_DeniesOverCeiling(t *testing.T) {
	m := NewManager(models.ResourceLimits{MaxMemoryMB: 1000, MaxConcurrentJobs: 10})
	require.True(t, m.Reserve("a", models.ResourceLimits{MaxMemoryMB: 600}))
	assert.False(t, m.Reserve("b", models.ResourceLimits{MaxMemoryMB: 600}))
}

func TestReserve_DeniesOverConcurrencyLimit(t *testing.T) {
	m := NewManager(models.ResourceLimits{MaxMemoryMB: 100000, MaxConcurrentJobs: 1})
	require.True(t, m.Reserve("a", models.ResourceLimits{MaxMemoryMB: 10}))
	assert.False(t, m.Reserve("b", models.ResourceLimits{MaxMemoryMB: 10}))
}

func TestRelease_FreesCapacityForNextReservation(t *testing.T) {
	m := NewManager(models.ResourceLimits{MaxMemoryMB: 1000, MaxConcurrentJobs: 10})
	require.True(t, m.Reserve("a", models.ResourceLimits{MaxMemoryMB: 600}))
	require.False(t, m.Reserve("b", models.ResourceLimits{MaxMemoryMB: 600}))
	m.Release("a", models.ResourceLimits{MaxMemoryMB: 600})
	assert.True(t, m.Reserve("b", models.ResourceLimits{MaxMemoryMB: 600}))
}

func TestUsage_ReflectsReservations(t *testing.T) {
	m := NewManager(models.ResourceLimits{MaxMemoryMB: 1000, MaxConcurrentJobs: 10})
	require.True(t, m.Reserve("a", models.ResourceLimits{MaxMemoryMB: 200}))
	usage := m.Usage()
	assert.Equal(t, 200, usage.ReservedMemoryMB)
	assert.Equal(t, 1, usage.RunningJobs)
}
