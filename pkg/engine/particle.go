// Package engine holds the types and dispatch logic shared by every
// particle scheduler: the particle's per-goroutine state, the predict
// buffer, and the observe/predict dispatcher that routes into whichever
// scheduler is active.
package engine

import (
	"math"
	"sync/atomic"

	"code.hybscloud.com/probc/internal/rng"
)

// Continuation is the rest of a user program from an observe point onward.
// It is how probc replaces fork-based process cloning: instead of the
// operating system cloning an in-flight call stack, the user program hands
// the engine an explicit closure over whatever local state it still needs,
// and the engine invokes that closure directly for the particle that
// continues as "self" and via a new goroutine for every other offspring.
// A continuation never replays code that ran before the observe it follows.
type Continuation func(p *Particle)

// Particle is one goroutine's local state: the goroutine-native replacement
// for the original engine's per-process locals.
type Particle struct {
	ID int

	LogWeight          float64 // reset at every synchronization point
	LogWeightIncrement float64 // cascade only: since last synchronizing observe
	LogLikelihood      float64 // cumulative, never reset
	CurrentObserve     int     // zero-based index of the next synchronizing observe

	LiveOffspringCount  int32 // direct children not yet reaped
	ParticlePseudocount int64 // cascade only; collapsed offspring multiplicity

	InitialIndex int   // cascade only: ordinal of the root initialization
	PIDTrace     []int // PG only: one particle id per observation index
	Retained     bool  // PG only: marks the single lineage pinned to survive every round; never inherited by Spawn

	Predict *PredictBuffer
	RNG     *rng.Source
}

var nextParticleID atomic.Int64

// NextParticleID returns a fresh synthetic particle identifier, the
// goroutine-era replacement for the original engine's OS process id.
func NextParticleID() int {
	return int(nextParticleID.Add(1))
}

// NewRoot creates the particle state for a root launch.
func NewRoot(seed int64) *Particle {
	p := &Particle{
		ID:             NextParticleID(),
		CurrentObserve: 0,
		Predict:        NewPredictBuffer(),
		RNG:            rng.New(seed),
	}
	p.ParticlePseudocount = 1
	return p
}

// Spawn creates offspring number idx of p at a resample, inheriting p's
// weight, predict buffer contents so far, and ancestry, but advancing past
// the observe that produced it and drawing a fresh independent RNG stream.
// This is the direct analogue of fork's copy-on-write semantics without an
// OS process: a value copy of everything the child needs to continue
// forward, never backward.
func (p *Particle) Spawn(idx int) *Particle {
	child := &Particle{
		ID:                 NextParticleID(),
		LogWeight:          p.LogWeight,
		LogWeightIncrement: p.LogWeightIncrement,
		LogLikelihood:      p.LogLikelihood,
		CurrentObserve:     p.CurrentObserve + 1,
		Predict:            p.Predict.Clone(),
		RNG:                p.RNG.Fork(idx),
	}
	if p.ParticlePseudocount > 0 {
		child.ParticlePseudocount = p.ParticlePseudocount
	} else {
		child.ParticlePseudocount = 1
	}
	if len(p.PIDTrace) > 0 {
		child.PIDTrace = append([]int(nil), p.PIDTrace...)
	}
	child.InitialIndex = p.InitialIndex
	return child
}

// ResetWeight zeroes the accumulated log-weight at a synchronization point,
// optionally to a resampling-adjusted value.
func (p *Particle) ResetWeight(to float64) {
	p.LogWeight = to
}

// IsZeroWeight reports whether the particle's weight has underflowed to
// probability zero, the trigger for the resampler's uniform fallback.
func (p *Particle) IsZeroWeight() bool {
	return math.IsInf(p.LogWeight, -1)
}
