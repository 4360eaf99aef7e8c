// Package rng is the elementary random procedure (ERP) facade shared by
// every particle: each primitive exposes both a sampler and its log-density,
// mirroring the paired *_rng/*_lnp functions of the original engine.
package rng

import (
	"math"
	mrand "math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source is a seedable, independently forkable random source. One Source is
// owned by exactly one particle goroutine; it is never shared.
type Source struct {
	rnd *mrand.Rand
	src mrand.Source64
}

// New returns a Source seeded deterministically from seed.
func New(seed int64) *Source {
	s := mrand.NewSource(seed).(mrand.Source64)
	return &Source{rnd: mrand.New(s), src: s}
}

// Fork derives a new, independent Source for an offspring particle. The
// derived seed is a function of the parent's current stream position and
// the offspring's ordinal, so siblings spawned from the same parent never
// share a stream, and the same (parent seed, offspring index) pair always
// reproduces the same child stream.
func (s *Source) Fork(offspringIndex int) *Source {
	mix := s.src.Uint64() ^ uint64(offspringIndex)*0x9E3779B97F4A7C15
	return New(int64(mix))
}

// Flip returns a Bernoulli(p) draw; FlipLnP gives its log-probability.
func (s *Source) Flip(p float64) bool {
	return s.rnd.Float64() < p
}

// FlipLnP returns the log-probability of observing outcome under Bernoulli(p).
func FlipLnP(outcome bool, p float64) float64 {
	if outcome {
		return math.Log(p)
	}
	return math.Log1p(-p)
}

// Poisson draws from a Poisson(lambda) distribution.
func (s *Source) Poisson(lambda float64) int {
	d := distuv.Poisson{Lambda: lambda, Src: s.rnd}
	return int(d.Rand())
}

// PoissonLnP returns the log-probability mass of k under Poisson(lambda).
func PoissonLnP(k int, lambda float64) float64 {
	if k < 0 {
		return math.Inf(-1)
	}
	d := distuv.Poisson{Lambda: lambda}
	return d.LogProb(float64(k))
}

// Gamma draws from a Gamma(shape, rate) distribution.
func (s *Source) Gamma(shape, rate float64) float64 {
	d := distuv.Gamma{Alpha: shape, Beta: rate, Src: s.rnd}
	return d.Rand()
}

// GammaLnP returns the log-density of x under Gamma(shape, rate).
func GammaLnP(x, shape, rate float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	d := distuv.Gamma{Alpha: shape, Beta: rate}
	return d.LogProb(x)
}

// Beta draws from a Beta(alpha, beta) distribution.
func (s *Source) Beta(alpha, beta float64) float64 {
	d := distuv.Beta{Alpha: alpha, Beta: beta, Src: s.rnd}
	return d.Rand()
}

// BetaLnP returns the log-density of x under Beta(alpha, beta).
func BetaLnP(x, alpha, beta float64) float64 {
	if x <= 0 || x >= 1 {
		return math.Inf(-1)
	}
	d := distuv.Beta{Alpha: alpha, Beta: beta}
	return d.LogProb(x)
}

// Normal draws from a Normal(mu, sigma) distribution.
func (s *Source) Normal(mu, sigma float64) float64 {
	d := distuv.Normal{Mu: mu, Sigma: sigma, Src: s.rnd}
	return d.Rand()
}

// NormalLnP returns the log-density of x under Normal(mu, sigma).
func NormalLnP(x, mu, sigma float64) float64 {
	d := distuv.Normal{Mu: mu, Sigma: sigma}
	return d.LogProb(x)
}

// UniformDiscrete draws a uniformly distributed integer in [lo, hi].
func (s *Source) UniformDiscrete(lo, hi int) int {
	return lo + s.rnd.Intn(hi-lo+1)
}

// UniformDiscreteLnP returns the log-probability mass of outcome under the
// uniform discrete distribution over [lo, hi].
func UniformDiscreteLnP(outcome, lo, hi int) float64 {
	if outcome < lo || outcome > hi {
		return math.Inf(-1)
	}
	return -math.Log(float64(hi - lo + 1))
}

// Uniform draws from a continuous Uniform(lo, hi) distribution.
func (s *Source) Uniform(lo, hi float64) float64 {
	return lo + s.rnd.Float64()*(hi-lo)
}

// UniformLnP returns the log-density of x under Uniform(lo, hi).
func UniformLnP(x, lo, hi float64) float64 {
	if x < lo || x > hi {
		return math.Inf(-1)
	}
	return -math.Log(hi - lo)
}

// Discrete draws an index from a categorical distribution given unnormalized
// weights. Weights need not sum to one.
func (s *Source) Discrete(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := s.rnd.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

// DiscreteLnP returns the log-probability of outcome under the categorical
// distribution defined by weights.
func DiscreteLnP(outcome int, weights []float64) float64 {
	if outcome < 0 || outcome >= len(weights) || weights[outcome] <= 0 {
		return math.Inf(-1)
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return math.Log(weights[outcome]) - math.Log(total)
}

// DiscreteLog draws an index from a categorical distribution given
// log-unnormalized weights, using the log-sum-exp identity for stability.
func (s *Source) DiscreteLog(logWeights []float64) int {
	lse := LogSumExp(logWeights)
	r := math.Log(s.rnd.Float64()) + lse
	acc := math.Inf(-1)
	for i, lw := range logWeights {
		acc = LogAdd(acc, lw)
		if r < acc {
			return i
		}
	}
	return len(logWeights) - 1
}

// Dirichlet draws a vector from a Dirichlet(alpha) distribution.
func (s *Source) Dirichlet(alpha []float64) []float64 {
	out := make([]float64, len(alpha))
	sum := 0.0
	for i, a := range alpha {
		out[i] = s.Gamma(a, 1)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// DirichletSym draws a vector from a symmetric Dirichlet(alpha, ..., alpha)
// distribution over dim categories.
func (s *Source) DirichletSym(alpha float64, dim int) []float64 {
	alphas := make([]float64, dim)
	for i := range alphas {
		alphas[i] = alpha
	}
	return s.Dirichlet(alphas)
}

// LogSumExp computes log(sum(exp(xs))) using the max-shift identity for
// numerical stability.
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// LogAdd computes log(exp(a) + exp(b)) using the two-term log-sum-exp
// identity.
func LogAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
