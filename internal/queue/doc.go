// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue adapts code.hybscloud.com/lfq's bounded lock-free FIFO
// queues to probc's particle-scheduler coordination traffic.
//
// lfq supplies the lock-free algorithms themselves (FAA-based SCQ variants
// for MPSC/SPMC/MPMC); this package does not reimplement them. What it adds
// is the domain vocabulary the schedulers reason in — arrivals, launch
// tasks, leaf tokens — in place of the library's generic Enqueue/Dequeue,
// and picks which queue shape fits which rendezvous:
//
//   - [ArrivalHub]: many particle goroutines report a log-weight arrival at
//     a synchronizing observe; one hub goroutine drains the round. Wraps
//     lfq.MPSC. Used by the SMC and Particle Gibbs schedulers (§4.4, §4.5).
//   - [LaunchFeed]: one root loop publishes "start this particle" tasks to
//     a bounded pool of launcher goroutines. Wraps lfq.SPMC. Used by SMC's
//     initial population launch.
//   - [LeafTokens]: a bounded token bucket implementing the Particle
//     Cascade leaf-node throttle as a lock-free semaphore instead of a
//     mutex-guarded counter. Wraps lfq.MPMC. Used by the Cascade scheduler
//     (§4.6).
//
// None of probc's three schedulers has a genuine one-to-one producer/
// consumer pairing to hand an SPSC queue directly — every rendezvous here
// is many-to-one, one-to-many, or many sharing one pool — so lfq.SPSC is
// not wrapped at all. Particle Gibbs's retained trace was originally
// planned to rendezvous through a dedicated SPSC channel per observation
// index (one parked retained particle, one hub signalling it), but the
// closure/lineage redesign in pkg/engine/pg eliminates the parked goroutine
// entirely, so that pairing never materialized; see DESIGN.md.
//
// # Error handling
//
// Operations return [ErrWouldBlock] when they cannot proceed (hub not yet
// drained, feed empty, token bucket exhausted) — a control-flow signal, not
// a failure; callers spin-retry via code.hybscloud.com/spin rather than
// propagate it.
package queue
