// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

import "code.hybscloud.com/lfq"

// ArrivalHub is the many-particles-to-one-scheduler rendezvous point: every
// live particle goroutine reports its log-weight at a synchronizing observe,
// and the scheduler's single hub goroutine drains exactly the population
// size before resolving a round's resample decision.
//
// ArrivalHub wraps lfq's FAA-based MPSC queue rather than reimplementing
// it — the arrival traffic it carries (one (particle, observe-round) message
// per live particle per round) is exactly the producer/consumer shape MPSC
// already solves; the queue has no notion of "particle" or "round", so the
// domain knowledge lives entirely in the scheduler code that dequeues from
// here and replies on the arrival's own channel.
type ArrivalHub[T any] struct {
	q *lfq.MPSC[T]
}

// NewArrivalHub allocates a hub sized for the given population. Capacity
// rounds up to the next power of two, same as the underlying queue.
func NewArrivalHub[T any](capacity int) *ArrivalHub[T] {
	return &ArrivalHub[T]{q: lfq.NewMPSC[T](capacity)}
}

// Arrive reports a particle's arrival at this round's synchronization
// point. Returns ErrWouldBlock if the hub hasn't drained the previous
// round yet; callers spin-retry rather than treat this as failure.
func (h *ArrivalHub[T]) Arrive(a *T) error {
	return h.q.Enqueue(a)
}

// Collect removes one arrival for the hub goroutine to fold into the
// round's resample computation. Returns ErrWouldBlock if no particle has
// arrived yet.
func (h *ArrivalHub[T]) Collect() (T, error) {
	return h.q.Dequeue()
}

// Cap returns the hub's arrival capacity.
func (h *ArrivalHub[T]) Cap() int {
	return h.q.Cap()
}
