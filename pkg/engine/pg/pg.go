// Package pg implements the Particle Gibbs (PMCMC) scheduler: conditional
// SMC with a retained trace kept across iterations, plus its PIMH
// (particle-independent Metropolis-Hastings) specialization.
//
// The original engine keeps the retained trace alive as a literal OS
// process parked on a condition variable at every observation index,
// woken each round either to branch (reproduce) or release (terminate).
// Go cannot cheaply park and resume an arbitrary goroutine's call stack
// across iterations, so this redesign (authorized by the source spec's
// own §9 DESIGN NOTES) replaces the parked process with a single saved
// continuation closure per iteration: every particle accumulates a
// Lineage of (continuation, weight) pairs as it passes each
// synchronizing observe, and at the end of an iteration the first
// lineage entry of the uniformly chosen particle is enough to resurrect
// that same trace at the very start of the next iteration — calling its
// saved continuation once, never replaying the code that ran before it.
// From that point on the resurrected particle runs forward exactly like
// any other, pinned to survive every round purely by the Particle.Retained
// marker the hub checks each time it resamples (engine.Particle.Spawn
// never copies that marker onto a child, so only the one lineage that
// keeps calling its own continuation directly stays retained).
package pg

import (
	"math"
	"sync"

	"code.hybscloud.com/spin"

	"code.hybscloud.com/probc/internal/engineerr"
	"code.hybscloud.com/probc/internal/queue"
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
	"code.hybscloud.com/probc/pkg/engine/resample"
)

// Config holds the per-run statics (particle count, iteration count).
type Config struct {
	Particles  int
	Iterations int
	Seed       int64
	Timeit     bool
	// PIMH enables the particle-independent Metropolis-Hastings
	// accept/reject step on the proposed retained trace (§4 SUPPLEMENTED
	// FEATURES: "PIMH acceptance ratio").
	PIMH bool
}

// DefaultConfig returns the CLI defaults from spec §6: 10 particles, 100
// iterations.
func DefaultConfig() Config {
	return Config{Particles: 10, Iterations: 100, Seed: 1}
}

// lineageEntry records, for one observation index, the continuation a
// particle used to proceed past it and the weight it carried at that
// instant. Only index 0 of a chosen trace is ever replayed forward
// (resurrected at the next iteration's start); the rest of the slice is
// kept so the chosen trace's length can be checked against the number of
// synchronizing observes found by the pre-run pass.
type lineageEntry struct {
	cont   engine.Continuation
	weight float64
	ll     float64 // cumulative log-likelihood at this checkpoint
}

type arrival struct {
	particle *engine.Particle
	reply    chan verdict
}

type verdict struct {
	offspring int
	weight    float64
}

// finalResult is what a completed particle reports to the iteration
// collector: its full lineage plus terminal state.
type finalResult struct {
	p       *engine.Particle
	lineage []lineageEntry
}

// Scheduler implements engine.Scheduler for Particle Gibbs.
type Scheduler struct {
	cfg Config

	numObserves int

	// retainedSeed holds what's needed to resurrect the previous
	// iteration's chosen trace at the very start of the next iteration.
	// Zero value (cont == nil) means "no retained trace yet" — the first
	// iteration runs as plain unconditional SMC.
	retainedSeed lineageEntry

	hub     *queue.ArrivalHub[arrival]
	results chan finalResult

	lineageMu sync.Mutex
	lineages  map[int][]lineageEntry

	// PIMH bookkeeping: the marginal-likelihood estimate of the last
	// accepted iteration, and that iteration's own winner, so a rejected
	// proposal can re-emit the previous sample instead of the rejected one.
	prevMLL      float64
	lastAccepted *finalResult
}

// New creates a Particle Gibbs scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		lineages: make(map[int][]lineageEntry),
		prevMLL:  math.Inf(-1),
	}
}

func (s *Scheduler) getLineage(id int) []lineageEntry {
	s.lineageMu.Lock()
	defer s.lineageMu.Unlock()
	return append([]lineageEntry(nil), s.lineages[id]...)
}

func (s *Scheduler) setLineage(id int, l []lineageEntry) {
	s.lineageMu.Lock()
	s.lineages[id] = l
	s.lineageMu.Unlock()
}

func (s *Scheduler) delLineage(id int) {
	s.lineageMu.Lock()
	delete(s.lineages, id)
	s.lineageMu.Unlock()
}

// WeightTrace implements engine.Scheduler. Every live particle — fresh or
// resurrected-retained — goes through exactly this path; the hub alone
// decides (via arrival.particle.Retained) which slot gets pinned.
func (s *Scheduler) WeightTrace(p *engine.Particle, lnP float64, synchronize bool, cont engine.Continuation) {
	p.LogWeight += lnP
	p.LogLikelihood += lnP
	if !synchronize {
		cont(p)
		return
	}

	reply := make(chan verdict, 1)
	a := arrival{particle: p, reply: reply}
	sw := spin.Wait{}
	for s.hub.Arrive(&a) != nil {
		sw.Once()
	}

	v := <-reply
	base := s.getLineage(p.ID)
	full := append(base, lineageEntry{cont: cont, weight: v.weight, ll: p.LogLikelihood})
	s.delLineage(p.ID)

	if v.offspring == 0 {
		return
	}

	p.ResetWeight(v.weight)
	s.setLineage(p.ID, full)
	for i := 1; i < v.offspring; i++ {
		child := p.Spawn(i)
		child.ResetWeight(v.weight)
		s.setLineage(child.ID, append([]lineageEntry(nil), full...))
		go cont(child)
	}
	p.CurrentObserve++
	cont(p)
}

// Finish marks a particle as having completed the program and reports its
// full lineage to the iteration collector.
func (s *Scheduler) Finish(p *engine.Particle) {
	lineage := s.getLineage(p.ID)
	s.delLineage(p.ID)
	s.results <- finalResult{p: p, lineage: lineage}
}

// injectedArrival carries the retained trace's contribution to a round it
// never actually arrives at. The retained trace is always resurrected
// already past observe index 0 (its saved continuation already represents
// "the rest of the program after observe 0"), so round 0 of every iteration
// that has a live retained trace is one genuine arrival short: the
// original engine's pg.c sets
// particles_to_count = NUM_PARTICLES - (has_retained_particle ? 1 : 0) and
// injects the retained particle's saved weight directly into that round's
// log_weights array rather than waiting for it to "arrive". This mirrors
// that: runHub waits for n-1 real arrivals and folds weight into slot n-1
// itself, unconditionally pinned.
type injectedArrival struct {
	weight float64
}

// runHub drains real arrivals for one synchronizing observe — n of them,
// or n-1 when inj is non-nil for this round — and resolves the resample:
// an unconditional multinomial draw when nothing is pinned, or the
// conditional variant pinning the retained slot to survive otherwise. It
// returns this round's log_sum_exp(weights) - log(n) contribution to the
// iteration's marginal-likelihood estimate (for PIMH's acceptance ratio)
// and, when inj was supplied, the offspring count and reset weight
// resolved for the injected slot — there is no real arrival to reply to,
// so the caller must act on these directly.
func (s *Scheduler) runHub(n int, src *rng.Source, inj *injectedArrival) (roundLL float64, injOffspring int, injWeight float64, err error) {
	want := n
	if inj != nil {
		want = n - 1
	}

	collected := make([]arrival, 0, want)
	sw := spin.Wait{}
	for len(collected) < want {
		a, derr := s.hub.Collect()
		if derr != nil {
			sw.Once()
			continue
		}
		collected = append(collected, a)
	}

	logWeights := make([]float64, n)
	pinned := -1
	for i, a := range collected {
		logWeights[i] = a.particle.LogWeight
		if a.particle.Retained {
			pinned = i
		}
	}
	if inj != nil {
		logWeights[n-1] = inj.weight
		pinned = n - 1
	}
	roundLL = rng.LogSumExp(logWeights) - math.Log(float64(n))

	var offspring []int
	if pinned >= 0 {
		offspring = resample.ConditionalMultinomial(src, logWeights, n, pinned)
	} else {
		offspring = resample.Multinomial(src, logWeights, n)
	}
	if cerr := resample.CheckSum(offspring, n); cerr != nil {
		return 0, 0, 0, cerr
	}

	// Particle Gibbs resamples at every synchronizing observe (unlike
	// SMC's adaptive ESS trigger), so the post-round weight is always
	// reset to 0, never the raw pre-reply log-weight.
	for i, a := range collected {
		a.reply <- verdict{offspring: offspring[i], weight: 0}
	}
	if inj != nil {
		injOffspring, injWeight = offspring[n-1], 0
	}
	return roundLL, injOffspring, injWeight, nil
}

// discoverObserves runs one forward pass of program with predict disabled
// and a throwaway scheduler to count synchronizing observes, resolving
// spec §9's open question the same way every scheduler does.
func (s *Scheduler) discoverObserves(program func(p *engine.Particle, s engine.Scheduler)) int {
	d := &discoverer{done: make(chan struct{})}
	p := engine.NewRoot(s.cfg.Seed)
	p.Predict.SetActive(false)
	program(p, d)
	<-d.done
	return d.count
}

// discoverer is a throwaway engine.Scheduler that runs the program exactly
// once, serially, counting synchronizing observes instead of resampling —
// every offspring count is implicitly 1, so cont never needs a new
// goroutine.
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

// Run executes the pre-run discovery pass followed by cfg.Iterations
// conditional SMC iterations, each producing one retained-trace sample
// flushed to output. program must call s.Finish(p) on every terminal path.
func (s *Scheduler) Run(program func(p *engine.Particle, s engine.Scheduler)) error {
	s.numObserves = s.discoverObserves(program)

	n := s.cfg.Particles
	for iter := 0; iter < s.cfg.Iterations; iter++ {
		if err := s.runIteration(iter, n, program); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runIteration(iter, n int, program func(p *engine.Particle, s engine.Scheduler)) error {
	s.hub = queue.NewArrivalHub[arrival](n*2 + 2)
	s.results = make(chan finalResult, n)
	src := rng.New(s.cfg.Seed + int64(iter)*1000003)

	retainedLive := s.retainedSeed.cont != nil
	retainedVerdict := make(chan verdict, 1)

	hubErrs := make(chan error, s.numObserves+1)
	mllCh := make(chan float64, 1)
	var hubWG sync.WaitGroup
	if s.numObserves > 0 {
		hubWG.Add(1)
		go func() {
			defer hubWG.Done()
			mll := 0.0
			for o := 0; o < s.numObserves; o++ {
				// Round 0 is the only round the retained trace never
				// genuinely arrives at: it is resurrected already past
				// observe index 0, so its contribution there comes from
				// the saved lineage entry instead of a hub arrival. From
				// round 1 on it runs forward like any other particle.
				var inj *injectedArrival
				if o == 0 && retainedLive {
					inj = &injectedArrival{weight: s.retainedSeed.weight}
				}
				roundLL, injOffspring, injWeight, err := s.runHub(n, src, inj)
				if err != nil {
					hubErrs <- err
					return
				}
				mll += roundLL
				if inj != nil {
					retainedVerdict <- verdict{offspring: injOffspring, weight: injWeight}
				}
			}
			mllCh <- mll
		}()
	}

	fresh := n
	if retainedLive {
		fresh = n - 1
	}

	var wg sync.WaitGroup
	wg.Add(fresh)
	for i := 0; i < fresh; i++ {
		idx := i
		go func() {
			defer wg.Done()
			root := engine.NewRoot(s.cfg.Seed + int64(iter)*1000003 + int64(idx) + 1)
			program(root, s)
		}()
	}

	if retainedLive {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := <-retainedVerdict
			cont := s.retainedSeed.cont
			makeRetained := func(idx int, keepMarker bool) *engine.Particle {
				p := &engine.Particle{
					ID:             engine.NextParticleID(),
					LogWeight:      v.weight,
					LogLikelihood:  s.retainedSeed.ll,
					CurrentObserve: 1,
					Retained:       keepMarker,
					Predict:        engine.NewPredictBuffer(),
					RNG:            rng.New(s.cfg.Seed + int64(iter)*1000003 + int64(idx)),
				}
				s.setLineage(p.ID, []lineageEntry{s.retainedSeed})
				return p
			}
			// Conditional resampling guarantees the retained slot at
			// least one offspring; it may also win extra copies from the
			// n-1 multinomial draw, same as any other pinned slot.
			for i := 1; i < v.offspring; i++ {
				child := makeRetained(i, false)
				wg.Add(1)
				go func() {
					defer wg.Done()
					cont(child)
				}()
			}
			cont(makeRetained(0, true))
		}()
	}

	wg.Wait()

	results := make([]finalResult, 0, n)
	for len(results) < n {
		select {
		case r := <-s.results:
			results = append(results, r)
		case err := <-hubErrs:
			return err
		}
	}
	if s.numObserves > 0 {
		hubWG.Wait()
	}
	select {
	case err := <-hubErrs:
		return err
	default:
	}

	if len(results) == 0 {
		return engineerr.ErrNoLiveParticles
	}

	winner := results[src.UniformDiscrete(0, len(results)-1)]
	if len(winner.lineage) != s.numObserves {
		return engineerr.ErrObserveShapeChanged
	}

	if !s.cfg.PIMH {
		if s.numObserves > 0 {
			s.retainedSeed = winner.lineage[0]
		}
		winner.p.Predict.Flush(engine.Stdout, winner.p.LogWeight, winner.p.ID)
		return nil
	}

	// PIMH: accept the proposed trace with probability
	// min(1, exp(iterMLL - prevMLL)); a rejection re-emits the last
	// accepted sample and leaves the retained trace untouched, exactly
	// the independence-MH behavior over the space of whole traces.
	iterMLL := 0.0
	if s.numObserves > 0 {
		iterMLL = <-mllCh
	}
	accept := iterMLL >= s.prevMLL || math.Log(src.Uniform(0, 1)) < iterMLL-s.prevMLL
	if accept {
		s.prevMLL = iterMLL
		w := winner
		s.lastAccepted = &w
		if s.numObserves > 0 {
			s.retainedSeed = winner.lineage[0]
		}
		winner.p.Predict.Flush(engine.Stdout, winner.p.LogWeight, winner.p.ID)
		return nil
	}
	if s.lastAccepted != nil {
		s.lastAccepted.p.Predict.Flush(engine.Stdout, s.lastAccepted.p.LogWeight, s.lastAccepted.p.ID)
	}
	return nil
}
