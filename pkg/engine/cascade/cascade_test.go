package cascade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

func twoObserveGaussian(p *engine.Particle, s engine.Scheduler) {
	mu := p.RNG.Normal(0, 1)
	engine.Observe(s, p, rng.NormalLnP(1, mu, 1), func(p *engine.Particle) {
		engine.Observe(s, p, rng.NormalLnP(1.2, mu, 1), func(p *engine.Particle) {
			p.Predict.PredictValue("mu", mu)
			s.Finish(p)
		})
	})
}

func TestRunReachesParticleSoftLimit(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.ParticleSoftLimit = 25
	cfg.MaxLeafNodeCount = 16
	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.GreaterOrEqual(t, len(lines), cfg.ParticleSoftLimit)
	assert.GreaterOrEqual(t, sched.completed.Load(), int64(cfg.ParticleSoftLimit))
	assert.Equal(t, int(sched.completed.Load()), len(lines))
}

func TestLeafNodeThrottleReturnsAllTokensOnCompletion(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.ParticleSoftLimit = 40
	cfg.MaxLeafNodeCount = 16

	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	// Every acquired token must be released exactly once: once the run
	// drains, the pool should be back to its full starting capacity.
	drained := 0
	for {
		if err := sched.leafPool.Acquire(); err != nil {
			break
		}
		drained++
	}
	assert.Equal(t, cfg.MaxLeafNodeCount, drained)
}

func TestEvidenceDiagnosticLinesAreEmittedWhenRequested(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.ParticleSoftLimit = 10
	cfg.MaxLeafNodeCount = 8
	cfg.Evidence = true
	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	assert.Contains(t, out.String(), "log_marginal_likelihood,")
	assert.Contains(t, out.String(), "initial_particles,")
}

func TestFormatEvidenceAndInitialParticles(t *testing.T) {
	assert.Equal(t, "log_marginal_likelihood,-1.2345678900,,3", FormatEvidence(3, -1.23456789))
	assert.Equal(t, "initial_particles,5,,3", FormatInitialParticles(3, 5))
}
