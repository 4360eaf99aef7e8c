// Package smc implements the Sequential Monte Carlo particle scheduler: a
// fixed particle count, adaptive ESS-triggered resampling, and an optional
// marginal-likelihood estimate.
package smc

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/spin"

	"code.hybscloud.com/probc/internal/queue"
	"code.hybscloud.com/probc/internal/reaper"
	"code.hybscloud.com/probc/internal/rng"
	"code.hybscloud.com/probc/pkg/engine"
	"code.hybscloud.com/probc/pkg/engine/resample"
)

// Config holds the engine-wide statics the original C scheduler kept as
// file-level globals (NUM_PARTICLES, TAU, ...), threaded explicitly here.
type Config struct {
	Particles int
	Tau       float64 // ESS trigger threshold; default 0.5
	Weighted  bool
	Evidence  bool
	Seed      int64
	Timeit    bool
	// Residual selects residual resampling instead of multinomial.
	Residual bool
}

// DefaultConfig returns the CLI defaults from spec §6: 100 particles, τ=0.5.
func DefaultConfig() Config {
	return Config{Particles: 100, Tau: 0.5, Seed: 1}
}

type arrival struct {
	particle *engine.Particle
	lnP      float64
	reply    chan verdict
}

type verdict struct {
	offspring int
	weight    float64
}

// Scheduler implements engine.Scheduler for SMC.
type Scheduler struct {
	cfg   Config
	hub   *queue.ArrivalHub[arrival]
	rp    *reaper.Reaper
	mll   float64
	mllMu sync.Mutex

	numObserves int
	round       atomic.Int64
}

// New creates an SMC scheduler. Capacity of the internal arrival queue
// rounds up to the next power of two, as all probc queues do.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		hub: queue.NewArrivalHub[arrival](cfg.Particles*2 + 2),
		rp:  reaper.New(cfg.Particles * 2),
		mll: 0,
	}
}

// WeightTrace implements engine.Scheduler. synchronize=false paths merely
// accumulate lnP; synchronize=true paths enqueue an arrival and block on a
// private reply channel until the round's hub has resolved every arrival's
// verdict, exactly mirroring the original begin_observe/end_observe pair
// but as a message exchange instead of a barrier.
func (s *Scheduler) WeightTrace(p *engine.Particle, lnP float64, synchronize bool, cont engine.Continuation) {
	p.LogWeight += lnP
	p.LogLikelihood += lnP
	if !synchronize {
		cont(p)
		return
	}

	reply := make(chan verdict, 1)
	a := arrival{particle: p, lnP: lnP, reply: reply}
	sw := spin.Wait{}
	for s.hub.Arrive(&a) != nil {
		sw.Once()
	}

	v := <-reply

	if v.offspring == 0 {
		s.rp.Done(p.ID)
		return
	}

	p.ResetWeight(v.weight)
	for i := 1; i < v.offspring; i++ {
		child := p.Spawn(i)
		child.ResetWeight(v.weight)
		s.rp.Launch(child.ID)
		go cont(child)
	}
	p.CurrentObserve++
	cont(p)
}

// Finish marks a particle as having completed the user program (as
// distinct from being discarded at a resample): it flushes the particle's
// predict buffer through the shared output lock and reaps the goroutine.
// Every model program's continuation must call Finish exactly once on its
// terminal path, mirroring the original engine flushing a surviving
// process's buffer after its final weight is known.
func (s *Scheduler) Finish(p *engine.Particle) {
	p.Predict.Flush(engine.Stdout, p.LogWeight, p.ID)
	s.rp.Done(p.ID)
}

// discoverObserves runs one forward pass of program, serially and with
// predict disabled, to count synchronizing observes, so the hub knows how
// many rounds to run and can tell the final round (relevant to
// -w/--weighted, §4 SUPPLEMENTED FEATURES) from every other round.
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

// runHub drains exactly N arrivals, resolves the resample decision, and
// replies to every arrival before returning. The caller invokes this once
// per synchronizing observe shared by the whole particle population.
func (s *Scheduler) runHub(n int, src *rng.Source) error {
	collected := make([]arrival, 0, n)
	sw := spin.Wait{}
	for len(collected) < n {
		a, err := s.hub.Collect()
		if err != nil {
			sw.Once()
			continue
		}
		collected = append(collected, a)
	}

	round := int(s.round.Add(1) - 1)
	finalRound := s.numObserves > 0 && round == s.numObserves-1

	logWeights := make([]float64, n)
	for i, a := range collected {
		logWeights[i] = a.particle.LogWeight
	}

	p := resample.Weights(logWeights)
	ess := resample.ESS(p)

	var offspring []int
	// Weighted output (§4 SUPPLEMENTED FEATURES) asks for every surviving
	// particle's raw importance weight on the final observe instead of one
	// last implicit resample, so every particle's own accumulated weight —
	// not a post-resample constant — is what Finish eventually prints.
	resampled := ess < s.cfg.Tau*float64(n) && !(s.cfg.Weighted && finalRound)
	if resampled {
		s.mllMu.Lock()
		s.mll += rng.LogSumExp(logWeights) - math.Log(float64(n))
		s.mllMu.Unlock()

		if s.cfg.Residual {
			offspring = resample.Residual(src, logWeights, n)
		} else {
			offspring = resample.Multinomial(src, logWeights, n)
		}
	} else {
		offspring = make([]int, n)
		for i := range offspring {
			offspring[i] = 1
		}
	}

	if err := resample.CheckSum(offspring, n); err != nil {
		return err
	}

	for i, a := range collected {
		w := logWeights[i]
		if resampled {
			w = 0
		}
		a.reply <- verdict{offspring: offspring[i], weight: w}
	}
	return nil
}

// Run drives the hub loop for the lifetime of one SMC run while the root
// goroutine launches the initial particle population and program runs to
// completion. program is the user procedure, invoked once per root
// particle; it must call engine.Observe for every observe and call
// s.Finish(p) exactly once on every terminal path.
func (s *Scheduler) Run(program func(p *engine.Particle, s engine.Scheduler)) error {
	s.numObserves = s.discoverObserves(program)

	n := s.cfg.Particles
	hubSrc := rng.New(s.cfg.Seed)

	// Register the root population with the reaper before the hub starts,
	// so its Outstanding()==0 termination check can never observe a false
	// "nothing launched yet" reading.
	for i := 0; i < n; i++ {
		s.rp.Launch(0)
	}

	hubErrs := make(chan error, 1)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		for o := 0; o < s.numObserves; o++ {
			s.rp.Drain()
			if err := s.runHub(n, hubSrc); err != nil {
				select {
				case hubErrs <- err:
				default:
				}
				return
			}
		}
		sw := spin.Wait{}
		for s.rp.Outstanding() > 0 {
			if len(s.rp.Drain()) == 0 {
				sw.Once()
			}
		}
	}()

	launch := queue.NewLaunchFeed[int](n)
	for i := 0; i < n; i++ {
		idx := i
		for launch.Publish(&idx) != nil {
		}
	}

	// One launcher goroutine per particle: unlike cascade's throttled root
	// spawn loop, SMC's whole population must be concurrently live to
	// rendezvous at each observe, so fan-out is not capped here.
	var wg sync.WaitGroup
	workers := n
	var claimed atomic.Int64
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			sw := spin.Wait{}
			for {
				if claimed.Load() >= int64(n) {
					return
				}
				idx, err := launch.Claim()
				if err != nil {
					sw.Once()
					continue
				}
				claimed.Add(1)
				root := engine.NewRoot(s.cfg.Seed + int64(idx) + 1)
				program(root, s)
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-hubErrs:
		return err
	default:
	}
	<-hubDone
	return nil
}

// MarginalLogLikelihood returns the accumulated evidence estimate (spec
// §4.4/§8: sum of log_sum_exp(log_weights) - log(N) across resample
// events).
func (s *Scheduler) MarginalLogLikelihood() float64 {
	s.mllMu.Lock()
	defer s.mllMu.Unlock()
	return s.mll
}

// FormatEvidence renders the marginal-likelihood diagnostic line, per
// spec §6's "log_marginal_likelihood,FLOAT,,ID" output format.
func FormatEvidence(id int, ll float64) string {
	return fmt.Sprintf("log_marginal_likelihood,%g,,%d", ll, id)
}
