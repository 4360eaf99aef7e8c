package models

import (
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

// GaussianUnknownMean infers the mean of a Normal(mu, 2) likelihood given a
// Normal(1, 5) prior on mu and two observations, 9 and 8.
func GaussianUnknownMean(p *engine.Particle, s engine.Scheduler) {
	const sigma = 2.0
	mu := p.RNG.Normal(1, 5)

	engine.Observe(s, p, rng.NormalLnP(9, mu, sigma), func(p *engine.Particle) {
		engine.Observe(s, p, rng.NormalLnP(8, mu, sigma), func(p *engine.Particle) {
			p.Predict.PredictValue("mu", mu)
			s.Finish(p)
		})
	})
}
