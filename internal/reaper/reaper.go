// Package reaper tracks completion of spawned particle goroutines, the
// goroutine-era replacement for the original engine's wait/waitpid(WNOHANG)
// child-process reaping contract: every particle that is launched is
// eventually reaped, whether the run waits for it or polls for it.
package reaper

import "sync/atomic"

// Reaper collects completion notices from launched particles. Create one
// with New: the zero value has no completion channel, so its Done blocks
// forever.
type Reaper struct {
	done     chan int
	launched atomic.Int64
	reaped   atomic.Int64
}

// New returns a Reaper sized for up to capacity concurrently outstanding
// completions before Done blocks its caller.
func New(capacity int) *Reaper {
	return &Reaper{done: make(chan int, capacity)}
}

// Launch records that a particle with the given id has been started. Call
// this before spawning the goroutine so Wait/Drain can never observe a
// completion it didn't know to expect.
func (r *Reaper) Launch(id int) {
	r.launched.Add(1)
}

// Done reports that particle id has finished. Safe to call from the
// particle's own goroutine as its last action.
func (r *Reaper) Done(id int) {
	r.done <- id
}

// Wait blocks until n particles have been reaped, mirroring the original
// engine's blocking cleanup_children. Returns the ids in completion order.
func (r *Reaper) Wait(n int) []int {
	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		id := <-r.done
		r.reaped.Add(1)
		ids = append(ids, id)
	}
	return ids
}

// Drain collects every completion notice currently available without
// blocking, mirroring the original engine's non-blocking
// cleanup_completed_children(WNOHANG).
func (r *Reaper) Drain() []int {
	var ids []int
	for {
		select {
		case id := <-r.done:
			r.reaped.Add(1)
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

// Outstanding returns the number of launched particles not yet reaped.
func (r *Reaper) Outstanding() int64 {
	return r.launched.Load() - r.reaped.Load()
}
