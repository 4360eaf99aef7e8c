package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootInitializesParticlePseudocount(t *testing.T) {
	p := NewRoot(1)
	assert.Equal(t, int64(1), p.ParticlePseudocount)
	assert.Equal(t, 0, p.CurrentObserve)
	assert.NotNil(t, p.Predict)
	assert.NotNil(t, p.RNG)
}

func TestNextParticleIDIsUniqueAndMonotonic(t *testing.T) {
	a := NextParticleID()
	b := NextParticleID()
	assert.Less(t, a, b)
}

func TestSpawnAdvancesObserveIndexAndInheritsWeight(t *testing.T) {
	parent := NewRoot(7)
	parent.LogWeight = -2.5
	parent.LogLikelihood = -9
	parent.CurrentObserve = 3
	parent.Predict.Predict("x", "%d", 1)

	child := parent.Spawn(0)

	assert.NotEqual(t, parent.ID, child.ID)
	assert.Equal(t, parent.LogWeight, child.LogWeight)
	assert.Equal(t, parent.LogLikelihood, child.LogLikelihood)
	assert.Equal(t, parent.CurrentObserve+1, child.CurrentObserve)
	require.Len(t, child.Predict.lines, 1)
}

func TestSpawnClonesPredictBufferIndependently(t *testing.T) {
	parent := NewRoot(7)
	parent.Predict.Predict("x", "%d", 1)
	child := parent.Spawn(0)

	child.Predict.Predict("y", "%d", 2)
	assert.Len(t, parent.Predict.lines, 1)
	assert.Len(t, child.Predict.lines, 2)
}

func TestSpawnPreservesPositivePseudocountElseResetsToOne(t *testing.T) {
	parent := NewRoot(7)
	parent.ParticlePseudocount = 4
	child := parent.Spawn(0)
	assert.Equal(t, int64(4), child.ParticlePseudocount)

	parent.ParticlePseudocount = 0
	child2 := parent.Spawn(1)
	assert.Equal(t, int64(1), child2.ParticlePseudocount)
}

func TestSpawnCopiesPIDTraceByValue(t *testing.T) {
	parent := NewRoot(7)
	parent.PIDTrace = []int{10, 11}
	child := parent.Spawn(0)
	child.PIDTrace[0] = 99
	assert.Equal(t, 10, parent.PIDTrace[0])
}

func TestSpawnNeverInheritsRetained(t *testing.T) {
	parent := NewRoot(7)
	parent.Retained = true
	child := parent.Spawn(0)
	assert.False(t, child.Retained)
}

func TestResetWeight(t *testing.T) {
	p := NewRoot(1)
	p.LogWeight = -3
	p.ResetWeight(0)
	assert.Equal(t, 0.0, p.LogWeight)
}

func TestIsZeroWeight(t *testing.T) {
	p := NewRoot(1)
	assert.False(t, p.IsZeroWeight())
	p.LogWeight = math.Inf(-1)
	assert.True(t, p.IsZeroWeight())
}
