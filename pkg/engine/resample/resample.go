// Package resample implements the multinomial and residual offspring-count
// samplers shared by the SMC and Particle Gibbs schedulers.
package resample

import (
	"math"

	"code.hybscloud.com/probc/internal/engineerr"
	"code.hybscloud.com/probc/internal/rng"
)

// Weights turns log-weights into a normalized probability vector using the
// log-sum-exp identity, so callers never need to exponentiate raw
// log-weights that may differ by large magnitudes.
func Weights(logWeights []float64) []float64 {
	lse := rng.LogSumExp(logWeights)
	p := make([]float64, len(logWeights))
	if math.IsInf(lse, -1) {
		// Every weight underflowed to zero: the defined fallback is a
		// uniform draw, per spec's numerical-edge-case handling.
		u := 1.0 / float64(len(logWeights))
		for i := range p {
			p[i] = u
		}
		return p
	}
	for i, lw := range logWeights {
		p[i] = math.Exp(lw - lse)
	}
	return p
}

// Multinomial draws n independent categorical samples over the
// distribution implied by logWeights and returns per-slot offspring
// counts summing to n.
func Multinomial(src *rng.Source, logWeights []float64, n int) []int {
	p := Weights(logWeights)
	offspring := make([]int, len(logWeights))
	for i := 0; i < n; i++ {
		offspring[src.Discrete(p)]++
	}
	return offspring
}

// Residual performs deterministic floor assignment followed by a
// multinomial draw over the remainder, which has strictly lower variance
// than plain multinomial resampling for the same weight vector.
func Residual(src *rng.Source, logWeights []float64, n int) []int {
	p := Weights(logWeights)
	offspring := make([]int, len(logWeights))
	assigned := 0
	remainder := make([]float64, len(p))
	for i, pi := range p {
		exact := float64(n) * pi
		floor := math.Floor(exact)
		offspring[i] = int(floor)
		assigned += int(floor)
		remainder[i] = exact - floor
	}
	left := n - assigned
	if left > 0 {
		total := 0.0
		for _, r := range remainder {
			total += r
		}
		if total <= 0 {
			// Degenerate remainder: fall back to uniform distribution of
			// the leftover offspring rather than dividing by zero.
			for i := range remainder {
				remainder[i] = 1
			}
		}
		for i := 0; i < left; i++ {
			offspring[src.Discrete(remainder)]++
		}
	}
	return offspring
}

// ConditionalMultinomial is the Particle Gibbs variant of Multinomial: it
// draws n-1 offspring over all slots via ordinary multinomial resampling,
// then adds one to pinnedSlot unconditionally, guaranteeing the retained
// trace always reproduces (spec §4.5: "force n_offspring[N-1] >= 1").
func ConditionalMultinomial(src *rng.Source, logWeights []float64, n int, pinnedSlot int) []int {
	offspring := Multinomial(src, logWeights, n-1)
	offspring[pinnedSlot]++
	return offspring
}

// CheckSum validates the spec's central invariant — sum(n_offspring) == n —
// and returns engineerr.ErrOffspringSumMismatch if it does not hold. Every
// scheduler calls this immediately after resampling, before acting on the
// verdict, so a bug in the sampler aborts loudly instead of corrupting
// downstream barrier arithmetic.
func CheckSum(offspring []int, n int) error {
	sum := 0
	for _, o := range offspring {
		sum += o
	}
	if sum != n {
		return engineerr.ErrOffspringSumMismatch
	}
	return nil
}

// ESS computes the effective sample size 1/sum(p_i^2) from a probability
// vector, used by SMC/PG to decide whether to resample.
func ESS(p []float64) float64 {
	sum := 0.0
	for _, pi := range p {
		sum += pi * pi
	}
	if sum == 0 {
		return 0
	}
	return 1 / sum
}
