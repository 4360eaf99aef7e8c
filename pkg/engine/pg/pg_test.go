package pg

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

func TestRunProducesOneSamplePerIteration(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.Particles = 8
	cfg.Iterations = 5
	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, cfg.Iterations)
	for _, line := range lines {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 4)
		assert.Equal(t, "mu", fields[0])
	}
}

func TestPIMHRunsAndAlwaysEmitsOneSamplePerIteration(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.Particles = 8
	cfg.Iterations = 6
	cfg.PIMH = true
	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	// Every iteration emits exactly one sample, whether the proposed trace
	// was accepted or a rejection re-emitted the previous accepted one.
	require.Len(t, lines, cfg.Iterations)
}

func TestRetainedTraceCarriesAcrossIterations(t *testing.T) {
	var out strings.Builder
	orig := engine.Stdout
	engine.Stdout = &out
	defer func() { engine.Stdout = orig }()

	cfg := DefaultConfig()
	cfg.Particles = 6
	cfg.Iterations = 3
	sched := New(cfg)
	require.NoError(t, sched.Run(twoObserveGaussian))

	// After the first iteration the scheduler must have a seeded retained
	// trace to resurrect at the start of every subsequent iteration.
	assert.NotNil(t, sched.retainedSeed.cont)
}
