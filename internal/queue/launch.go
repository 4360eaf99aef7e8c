// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

import "code.hybscloud.com/lfq"

// LaunchFeed distributes "start this particle" tasks from one root loop to
// a small pool of launcher goroutines, bounding how many particles start
// concurrently the way the original engine's serial fork loop did in the
// parent process.
//
// This is a single-producer/multi-consumer access pattern, so it wraps
// lfq's SPMC queue directly rather than a generic MPMC: the root loop is
// the only publisher, and launcher goroutines race each other to claim
// the next task.
type LaunchFeed[T any] struct {
	q *lfq.SPMC[T]
}

// NewLaunchFeed allocates a feed sized for the launcher pool.
func NewLaunchFeed[T any](capacity int) *LaunchFeed[T] {
	return &LaunchFeed[T]{q: lfq.NewSPMC[T](capacity)}
}

// Publish hands one launch task to the pool (root loop only).
func (f *LaunchFeed[T]) Publish(task *T) error {
	return f.q.Enqueue(task)
}

// Claim takes the next launch task (launcher goroutines, many consumers).
func (f *LaunchFeed[T]) Claim() (T, error) {
	return f.q.Dequeue()
}

// Cap returns the feed's capacity.
func (f *LaunchFeed[T]) Cap() int {
	return f.q.Cap()
}
