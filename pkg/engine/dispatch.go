package engine

// Scheduler is the interface every particle scheduler (SMC, PG, Cascade)
// implements. observe reduces to WeightTrace(ln_p, true); weight_trace with
// synchronize=false is WeightTrace(ln_p, false).
type Scheduler interface {
	// WeightTrace accumulates lnP into p's log-weight. When synchronize is
	// true, it additionally runs the scheduler's barrier/resample protocol
	// before invoking cont: cont is called directly for the particle that
	// continues as itself (the "parent" slot, never replayed), and for
	// every additional offspring the scheduler launches a new goroutine
	// that also calls cont — never a copy of earlier code.
	WeightTrace(p *Particle, lnP float64, synchronize bool, cont Continuation)

	// Finish signals that p has reached the end of the user program (as
	// distinct from being discarded at a resample). Every model program
	// must call this exactly once on every terminal path, scheduler-
	// agnostically, so model code never needs the concrete scheduler type.
	Finish(p *Particle)
}

// Observe is sugar for WeightTrace(p, lnP, true, cont), matching the user
// API's observe(ln_p) = weight_trace(ln_p, true).
func Observe(s Scheduler, p *Particle, lnP float64, cont Continuation) {
	s.WeightTrace(p, lnP, true, cont)
}

// Unsynchronized is sugar for WeightTrace(p, lnP, false, cont): accumulate
// without a barrier, then continue with cont. Valid only when the number
// and position of synchronizing observes is invariant across every trace
// of the program. The schedulers do not verify this in general: only
// Particle Gibbs compares the synchronizing-observe count of each
// iteration's chosen trace with its pre-run count, returning
// engineerr.ErrObserveShapeChanged when they differ.
func Unsynchronized(s Scheduler, p *Particle, lnP float64, cont Continuation) {
	s.WeightTrace(p, lnP, false, cont)
}
