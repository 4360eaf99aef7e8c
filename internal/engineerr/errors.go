// Package engineerr collects the assertion-violation errors that abort a
// run rather than being retried, distinguished from transient
// backpressure (queue.ErrWouldBlock) by not implementing iox's
// IsWouldBlock/IsSemantic classification.
package engineerr

import "errors"

var (
	// ErrObserveShapeChanged is returned by Particle Gibbs when the trace
	// chosen at the end of an iteration passed a different number of
	// synchronizing observes than the pre-run discovery pass counted. Only
	// that count is compared; the position of synchronize=false observes is
	// neither recorded nor checked.
	ErrObserveShapeChanged = errors.New("probc: observe sequence changed across iterations")

	// ErrOffspringSumMismatch is returned when a resampler's offspring
	// counts do not sum to the particle population size.
	ErrOffspringSumMismatch = errors.New("probc: resampled offspring count does not sum to population size")

	// ErrNoLiveParticles is returned by Particle Gibbs when an iteration
	// ends with no completed particle to draw the next retained trace
	// from. An all-zero weight vector does not produce it: resampling
	// falls back to a uniform draw instead.
	ErrNoLiveParticles = errors.New("probc: all particles have zero weight")

	// ErrRetainedSlotEmpty names a Particle Gibbs retained-slot
	// inconsistency. No scheduler in this module returns it.
	ErrRetainedSlotEmpty = errors.New("probc: no retained particle recorded for this observation")

	// ErrLaunchFailed names a particle launch that could not be completed.
	// No scheduler in this module returns it; particle goroutines are
	// started with a plain go statement, which cannot fail.
	ErrLaunchFailed = errors.New("probc: particle launch failed")
)
