package models

import (
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

// fib is the textbook doubly-recursive Fibonacci, used only to burn a
// data-dependent amount of work before the branch point, exactly as the
// original example does.
func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

// Branching draws r ~ Poisson(4), then either takes the cheap branch (l=6)
// when r is large or the expensive branch (l = fib(3r) + Poisson(4)) when
// r is small, observes a Poisson(6) likelihood against l, and predicts r.
// This is the classic "simple branching" stress test for schedulers that
// must cope with wildly varying per-particle continuation cost.
func Branching(p *engine.Particle, s engine.Scheduler) {
	r := p.RNG.Poisson(4)

	var l int
	if r > 4 {
		l = 6
	} else {
		l = fib(3*r) + p.RNG.Poisson(4)
	}

	lnP := rng.PoissonLnP(6, float64(l))
	engine.Observe(s, p, lnP, func(p *engine.Particle) {
		p.Predict.Predict("r", "%3d", r)
		s.Finish(p)
	})
}
