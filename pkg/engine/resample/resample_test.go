package resample

import (
	"errors"
	"math"
	"testing"

	"code.hybscloud.com/probc/internal/engineerr"
	"code.hybscloud.com/probc/internal/rng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsNormalizes(t *testing.T) {
	w := Weights([]float64{math.Log(1), math.Log(1), math.Log(2)})
	sum := 0.0
	for _, wi := range w {
		sum += wi
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.5, w[2], 1e-9)
}

func TestWeightsAllZeroFallsBackToUniform(t *testing.T) {
	w := Weights([]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)})
	for _, wi := range w {
		assert.InDelta(t, 1.0/3, wi, 1e-9)
	}
}

func TestMultinomialOffspringSumsToN(t *testing.T) {
	src := rng.New(1)
	logWeights := []float64{math.Log(1), math.Log(3), math.Log(1)}
	offspring := Multinomial(src, logWeights, 100)
	require.NoError(t, CheckSum(offspring, 100))
}

func TestResidualAssignsDeterministicFloorFirst(t *testing.T) {
	src := rng.New(1)
	// Particle 0 carries exactly half the mass of an 8-way split: its
	// deterministic floor allocation alone must be at least 4.
	logWeights := []float64{math.Log(0.5), math.Log(0.5 / 7), math.Log(0.5 / 7),
		math.Log(0.5 / 7), math.Log(0.5 / 7), math.Log(0.5 / 7), math.Log(0.5 / 7), math.Log(0.5 / 7)}
	offspring := Residual(src, logWeights, 8)
	require.NoError(t, CheckSum(offspring, 8))
	assert.GreaterOrEqual(t, offspring[0], 4)
}

func TestResidualDegenerateRemainderDoesNotPanic(t *testing.T) {
	src := rng.New(1)
	// Every probability mass already lands on an exact integer count, so the
	// remainder vector is identically zero and must not divide by zero.
	logWeights := []float64{math.Log(0.5), math.Log(0.5)}
	offspring := Residual(src, logWeights, 2)
	require.NoError(t, CheckSum(offspring, 2))
}

func TestConditionalMultinomialAlwaysRetainsPinnedSlot(t *testing.T) {
	src := rng.New(1)
	logWeights := []float64{math.Log(1), math.Log(1), math.Log(1)}
	for i := 0; i < 20; i++ {
		offspring := ConditionalMultinomial(src, logWeights, 10, 2)
		require.NoError(t, CheckSum(offspring, 10))
		assert.GreaterOrEqual(t, offspring[2], 1)
	}
}

func TestCheckSumDetectsMismatch(t *testing.T) {
	err := CheckSum([]int{1, 1, 1}, 4)
	assert.True(t, errors.Is(err, engineerr.ErrOffspringSumMismatch))
}

func TestESSUniformIsN(t *testing.T) {
	p := []float64{0.25, 0.25, 0.25, 0.25}
	assert.InDelta(t, 4.0, ESS(p), 1e-9)
}

func TestESSDegenerateIsOne(t *testing.T) {
	p := []float64{1, 0, 0, 0}
	assert.InDelta(t, 1.0, ESS(p), 1e-9)
}

func TestESSAllZeroIsZero(t *testing.T) {
	assert.Equal(t, 0.0, ESS([]float64{0, 0, 0}))
}
