// Package cascade implements the Particle Cascade scheduler: an unbounded
// stream of asynchronously spawned particles, each resampled against a
// running per-observe average the moment it arrives rather than waiting
// for a synchronized population-wide round. This is the scheduler with
// the least structure to redesign: the original engine already treats
// every observe as an independent, lock-protected update rather than a
// barrier, so the goroutine translation keeps its shape almost exactly —
// weight_trace locks one running-average slot, decides this particle's
// own offspring count, and moves on, with no rendezvous at all.
package cascade

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/probc/internal/queue"
	"code.hybscloud.com/probc/internal/reaper"
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
)

// Config mirrors the original's cascade.c command-line globals.
type Config struct {
	// ParticleSoftLimit caps the total number of completed leaf paths
	// across the whole tree before the root spawn loop stops launching
	// brand-new initial particles (PARTICLE_SOFT_LIMIT).
	ParticleSoftLimit int
	// MaxLeafNodeCount bounds how many particles may be concurrently
	// live at once; additional offspring beyond this cap collapse into
	// the parent's pseudocount instead of spawning (MAX_LEAF_NODE_COUNT).
	MaxLeafNodeCount int
	// RandomResampling selects the randomized floor/ceil-with-flip
	// offspring rule over the deterministic balancing rule
	// (USE_RANDOM_RESAMPLING).
	RandomResampling bool
	Evidence         bool
	Timeit           bool
	Seed             int64
}

// DefaultConfig returns the CLI defaults from spec §6.
func DefaultConfig() Config {
	return Config{ParticleSoftLimit: 100000, MaxLeafNodeCount: 500, Seed: 1}
}

// obsStat is the running per-observe-index statistics the original engine
// kept as parallel shared-memory arrays (num_particles, log_avg_weight,
// offspring_count), one lock-protected slot per synchronizing observe.
type obsStat struct {
	mu                sync.Mutex
	numParticles      int64
	logAvgWeight      float64
	offspringCount    int64
	totalNumParticles int64 // only meaningful when Config.Evidence
}

// Scheduler implements engine.Scheduler for Particle Cascade.
type Scheduler struct {
	cfg Config

	numObserves int
	stats       []obsStat

	// leafPool is a bounded token bucket: one token per concurrently live
	// particle. A particle holds its own token for its whole lifetime and
	// must acquire one more per additional offspring; failing to acquire
	// collapses that offspring into the parent's pseudocount rather than
	// blocking, exactly the original's soft MAX_LEAF_NODE_COUNT collapse.
	leafPool *queue.LeafTokens

	rp *reaper.Reaper

	completed        atomic.Int64 // synthetic_pid: total leaf completions
	initialParticles atomic.Int64 // max(initial_index+1) seen so far
}

// New creates a Particle Cascade scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// acquireToken tries once, non-blockingly, to take a leaf slot.
func (s *Scheduler) acquireToken() bool {
	return s.leafPool.Acquire() == nil
}

// acquireTokens tries to take n leaf slots all at once; on partial
// failure it releases whatever it grabbed and reports false, so the
// caller's collapse-to-pseudocount decision is all-or-nothing per spec.
func (s *Scheduler) acquireTokens(n int) bool {
	got := 0
	for got < n {
		if !s.acquireToken() {
			break
		}
		got++
	}
	if got == n {
		return true
	}
	for i := 0; i < got; i++ {
		s.releaseToken()
	}
	return false
}

func (s *Scheduler) releaseToken() {
	s.leafPool.Release()
}

// acquireTokenBlocking is used only by the root spawn loop, which (unlike
// an ordinary particle's extra offspring) really does wait for capacity
// rather than collapsing, mirroring the outer loop's blocking
// pthread_cond_wait in the original.
func (s *Scheduler) acquireTokenBlocking() {
	sw := spinWait{}
	for !s.acquireToken() {
		sw.once()
	}
}

// spinWait is a tiny local backoff helper; cascade's throttle loops do not
// need the full code.hybscloud.com/spin.Wait budget the hub-based
// schedulers use since contention here is much lower (no N-way
// rendezvous), but the shape is the same.
type spinWait struct{ n int }

func (w *spinWait) once() {
	w.n++
	if w.n < 32 {
		return
	}
	for i := 0; i < 1<<uint(min(w.n-32, 10)); i++ {
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// WeightTrace implements engine.Scheduler. Every particle resolves its own
// offspring count immediately against the running average for its observe
// index; there is never a rendezvous with any other particle.
func (s *Scheduler) WeightTrace(p *engine.Particle, lnP float64, synchronize bool, cont engine.Continuation) {
	p.LogLikelihood += lnP
	p.LogWeightIncrement += lnP
	if !synchronize {
		cont(p)
		return
	}
	p.LogWeight += p.LogWeightIncrement

	o := p.CurrentObserve
	st := &s.stats[o]

	st.mu.Lock()
	if s.cfg.Evidence {
		st.totalNumParticles += p.ParticlePseudocount
	}
	particlesSoFar := st.numParticles
	if particlesSoFar == 0 {
		st.logAvgWeight = p.LogWeight
		st.offspringCount = 0
	} else {
		st.logAvgWeight = rng.LogSumExp([]float64{
			math.Log(float64(particlesSoFar)) + st.logAvgWeight,
			math.Log(float64(p.ParticlePseudocount)) + p.LogWeight,
		}) - math.Log(float64(particlesSoFar)+float64(p.ParticlePseudocount))
	}

	// Approximate read of how many particles have ever launched, the same
	// benign cross-slot race the original engine accepts: this value only
	// feeds a floor/ceil tie-break heuristic, never a correctness
	// invariant.
	particlesLaunched := s.stats[0].numParticles

	ratio := math.Exp(p.LogWeight - st.logAvgWeight)
	var numOffspring int
	var newLogWeight float64
	switch {
	case ratio < 1:
		numOffspring = boolToInt(p.RNG.Flip(ratio))
		newLogWeight = st.logAvgWeight
	case s.cfg.RandomResampling:
		numOffspring = int(math.Floor(ratio)) + boolToInt(p.RNG.Flip(ratio-math.Floor(ratio)))
		newLogWeight = st.logAvgWeight
	default:
		if st.offspringCount > minI64(particlesLaunched, particlesSoFar) {
			numOffspring = int(math.Floor(ratio))
		} else {
			numOffspring = int(math.Ceil(ratio))
		}
		newLogWeight = p.LogWeight - math.Log(float64(numOffspring))
	}

	if o+1 == s.numObserves {
		// No point branching on the final observe: collapse every
		// pseudo-observation this particle has been standing in for.
		numOffspring = 1
		p.LogWeight += math.Log(float64(p.ParticlePseudocount))
		p.ParticlePseudocount = 1
		newLogWeight = p.LogWeight
	}

	st.numParticles++
	st.offspringCount += int64(numOffspring)
	st.mu.Unlock()

	p.LogWeight = newLogWeight
	p.LogWeightIncrement = 0

	if numOffspring == 0 {
		s.releaseToken()
		s.rp.Done(p.ID)
		return
	}

	extra := numOffspring - 1
	if extra > 0 && !s.acquireTokens(extra) {
		p.ParticlePseudocount *= int64(numOffspring)
		extra = 0
	}
	for i := 0; i < extra; i++ {
		child := p.Spawn(i + 1)
		child.ParticlePseudocount = 1
		s.rp.Launch(child.ID)
		go cont(child)
	}
	p.CurrentObserve++
	cont(p)
}

// Finish reports a completed leaf path: assigns it a synthetic id (the
// total-completions counter, matching the original's synthetic_pid),
// updates the initial_particles high-water mark, flushes predict output,
// and optionally the timing/evidence diagnostics.
func (s *Scheduler) Finish(p *engine.Particle) {
	synthetic := s.completed.Add(1) - 1

	for {
		old := s.initialParticles.Load()
		want := int64(p.InitialIndex + 1)
		if want <= old {
			break
		}
		if s.initialParticles.CompareAndSwap(old, want) {
			break
		}
	}

	p.Predict.Flush(engine.Stdout, p.LogWeight, int(synthetic))

	if s.cfg.Evidence && s.numObserves > 0 {
		last := &s.stats[s.numObserves-1]
		last.mu.Lock()
		lav := last.logAvgWeight
		tot := last.totalNumParticles
		last.mu.Unlock()
		ip := s.initialParticles.Load()
		ll := lav + math.Log(float64(tot)) - math.Log(float64(ip))
		engine.FlushLine(engine.Stdout, FormatEvidence(int(synthetic), ll))
		engine.FlushLine(engine.Stdout, FormatInitialParticles(int(synthetic), int(ip)))
	}

	s.releaseToken()
	s.rp.Done(p.ID)
}

// discoverObserves runs one forward pass of program, serially and with
// predict disabled, to count synchronizing observes.
func (s *Scheduler) discoverObserves(program func(p *engine.Particle, s engine.Scheduler)) int {
	d := &discoverer{done: make(chan struct{})}
	p := engine.NewRoot(s.cfg.Seed)
	p.Predict.SetActive(false)
	program(p, d)
	<-d.done
	return d.count
}

type discoverer struct {
	count int
	done  chan struct{}
}

func (d *discoverer) WeightTrace(p *engine.Particle, lnP float64, synchronize bool, cont engine.Continuation) {
	p.LogWeight += lnP
	if synchronize {
		d.count++
	}
	cont(p)
}

func (d *discoverer) Finish(p *engine.Particle) {
	close(d.done)
}

// Run executes the pre-run discovery pass, then drives the root spawn
// loop: launch new initial particles (each holding its own leaf-pool
// token, acquired with blocking backoff exactly like the original's
// throttled outer loop) until the total number of completed leaf paths
// across the whole cascade reaches cfg.ParticleSoftLimit, then waits for
// every already-launched particle to finish. program must call
// s.Finish(p) on every terminal path.
func (s *Scheduler) Run(program func(p *engine.Particle, s engine.Scheduler)) error {
	s.numObserves = s.discoverObserves(program)
	s.stats = make([]obsStat, s.numObserves)

	s.leafPool = queue.NewLeafTokens(s.cfg.MaxLeafNodeCount)
	s.rp = reaper.New(s.cfg.MaxLeafNodeCount * 4)

	i := 0
	for s.completed.Load() < int64(s.cfg.ParticleSoftLimit) {
		s.acquireTokenBlocking()
		idx := i
		s.rp.Launch(0)
		go func() {
			root := engine.NewRoot(s.cfg.Seed + int64(idx) + 1)
			root.InitialIndex = idx
			root.ParticlePseudocount = 1
			program(root, s)
		}()
		i++
	}

	sw := spinWait{}
	for s.rp.Outstanding() > 0 {
		if ids := s.rp.Drain(); len(ids) == 0 {
			sw.once()
		} else {
			sw = spinWait{}
		}
	}
	return nil
}

// FormatEvidence renders the marginal-likelihood diagnostic line, per
// spec §6's "log_marginal_likelihood,FLOAT,,ID" output format.
func FormatEvidence(id int, ll float64) string {
	return fmt.Sprintf("log_marginal_likelihood,%0.10f,,%d", ll, id)
}

// FormatInitialParticles renders the cascade-specific diagnostic showing
// how many distinct root initializations contributed to this leaf's path.
func FormatInitialParticles(id, initialParticles int) string {
	return fmt.Sprintf("initial_particles,%d,,%d", initialParticles, id)
}
