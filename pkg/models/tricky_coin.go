// Package models holds example inference programs, one file per program,
// each written in continuation-passing style against engine.Scheduler so
// the same program runs unmodified under SMC, Particle Gibbs/PIMH, or
// Particle Cascade.
package models

import (
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

// TrickyCoin is the "tricky coin" example from the Venture documentation:
// a coin is tricky with probability 0.1, in which case its bias is drawn
// from a Beta(1,1) prior; otherwise its bias is exactly 0.5. Five flips,
// all heads, are observed, and the program predicts both whether the coin
// was tricky and its inferred bias.
func TrickyCoin(p *engine.Particle, s engine.Scheduler) {
	isTricky := p.RNG.Flip(0.1)
	var theta float64
	if isTricky {
		theta = p.RNG.Beta(1, 1)
	} else {
		theta = 0.5
	}

	trickyCoinObserve(p, s, theta, isTricky, 0)
}

func trickyCoinObserve(p *engine.Particle, s engine.Scheduler, theta float64, isTricky bool, flip int) {
	if flip == 5 {
		p.Predict.Predict("is_tricky", "%d", boolToInt(isTricky))
		p.Predict.PredictValue("theta", theta)
		s.Finish(p)
		return
	}
	lnP := rng.FlipLnP(true, theta)
	engine.Observe(s, p, lnP, func(child *engine.Particle) {
		trickyCoinObserve(child, s, theta, isTricky, flip+1)
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
