package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 32, d.MaxTasks)
	assert.Equal(t, 1024, d.StackSizeWords)
	assert.Equal(t, 32*1024, d.HeapSizeBytes)
	assert.Equal(t, 0, d.LowestPriority)
	assert.Equal(t, 7, d.HighestPriority)
	assert.Equal(t, 1000, d.TicksPerSecond)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("FLEXKERNEL_MAX_TASKS", "8")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, c.MaxTasks)
}

func TestTickPeriodHzFallsBackOnZero(t *testing.T) {
	c := Config{TicksPerSecond: 0}
	assert.Equal(t, 1000, c.TickPeriodHz())
}
