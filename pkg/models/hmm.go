package models

import (
	"fmt"

	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

const (
	hmmStates = 3
	hmmSteps  = 17
)

// hmmTransition is the Markov transition matrix over hmmStates.
var hmmTransition = [hmmStates][hmmStates]float64{
	{0.1, 0.5, 0.4},
	{0.2, 0.2, 0.6},
	{0.15, 0.15, 0.7},
}

// hmmData is the observed emission sequence; index 0 has no observation.
var hmmData = [hmmSteps]float64{
	0, .9, .8, .7, 0, -.025,
	-5, -2, -.1, 0, 0.13, 0.45,
	6, 0.2, 0.3, -1, -1,
}

// hmmInitialState is the prior distribution over the state at step 0.
var hmmInitialState = [hmmStates]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}

// hmmStateMean is the per-state mean of the Gaussian emission distribution.
var hmmStateMean = [hmmStates]float64{-1, 1, 0}

// HMM infers the hidden state sequence of a 3-state, 17-step hidden Markov
// model from noisy Gaussian emissions, predicting every state along the way.
func HMM(p *engine.Particle, s engine.Scheduler) {
	hmmStep(p, s, 0, -1)
}

func hmmStep(p *engine.Particle, s engine.Scheduler, n, prevState int) {
	if n == hmmSteps {
		s.Finish(p)
		return
	}

	var state int
	if n == 0 {
		state = p.RNG.Discrete(hmmInitialState[:])
	} else {
		state = p.RNG.Discrete(hmmTransition[prevState][:])
	}

	if n == 0 {
		p.Predict.Predict(fmt.Sprintf("state[%d]", n), "%d", state)
		hmmStep(p, s, n+1, state)
		return
	}

	lnP := rng.NormalLnP(hmmData[n], hmmStateMean[state], 1)
	engine.Observe(s, p, lnP, func(p *engine.Particle) {
		p.Predict.Predict(fmt.Sprintf("state[%d]", n), "%d", state)
		hmmStep(p, s, n+1, state)
	})
}
