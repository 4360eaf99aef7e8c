// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue

import "code.hybscloud.com/lfq"

// LeafTokens is a bounded token bucket pre-loaded with one token per
// permitted concurrently-live cascade leaf. A particle acquires a token
// before becoming a new live leaf and releases it back on termination,
// implementing the MAX_LEAF_NODE_COUNT throttle as a lock-free semaphore
// instead of a mutex-guarded counter.
//
// Many particles acquire and release concurrently, so this wraps lfq's
// MPMC queue of empty structs — the queue's item type carries no
// information itself, only its presence or absence in the bucket does.
type LeafTokens struct {
	q *lfq.MPMC[struct{}]
}

// NewLeafTokens allocates a bucket and fills it with n tokens.
func NewLeafTokens(n int) *LeafTokens {
	t := &LeafTokens{q: lfq.NewMPMC[struct{}](n)}
	for i := 0; i < n; i++ {
		var tok struct{}
		for t.q.Enqueue(&tok) != nil {
		}
	}
	return t
}

// Acquire takes one token, admitting a new leaf. Returns ErrWouldBlock if
// the leaf cap is currently exhausted.
func (t *LeafTokens) Acquire() error {
	_, err := t.q.Dequeue()
	return err
}

// Release returns a token after a leaf terminates. Callers spin-retry on
// the rare transient ErrWouldBlock rather than drop the token.
func (t *LeafTokens) Release() {
	var tok struct{}
	for t.q.Enqueue(&tok) != nil {
	}
}
