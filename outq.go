// Copyright 2024 The natscore Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package natscore

import (
	"sync"
	"time"
)

type overflowPolicy int

const (
	policyBlock overflowPolicy = iota
	policyDiscardNew
)

// outQueue is the bounded, blocking FIFO of outbound messages (spec §4.C).
// Messages form a singly-linked chain via Msg.next so a batch can be walked
// and serialized by the Writer without copying pointers into a temporary
// slice (spec §9 "intrusive outbound chain").
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	head   *Msg
	tail   *Msg
	count  int
	bytes  int

	maxCount int // 0 = unbounded
	maxBytes int // 0 = unbounded
	policy   overflowPolicy

	paused bool
	closed bool
}

func newOutQueue(maxCount, maxBytes int, policy overflowPolicy) *outQueue {
	q := &outQueue{maxCount: maxCount, maxBytes: maxBytes, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues m, blocking or refusing it (per policy) while the count cap
// is reached or m would take a non-empty queue past the byte cap. internal
// messages (protocol control lines such as SUB/UNSUB/PING) bypass both
// caps, per spec §4.C.
func (q *outQueue) push(m *Msg, internal bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for !internal && ((q.maxCount > 0 && q.count >= q.maxCount) ||
		(q.maxBytes > 0 && q.count > 0 && q.bytes+m.wireSize() > q.maxBytes)) {
		if q.policy == policyDiscardNew {
			return false
		}
		q.cond.Wait()
		if q.closed {
			return false
		}
	}
	m.next = nil
	if q.tail != nil {
		q.tail.next = m
	} else {
		q.head = m
	}
	q.tail = m
	q.count++
	q.bytes += m.wireSize()
	q.cond.Broadcast()
	return true
}

// accumulate atomically detaches up to maxCount messages whose summed
// encoded size is <= maxBytes (always at least one, so a single oversized
// message is never stuck forever), waiting up to wait for the first message
// to appear. Returns the detached chain head, the count and summed size
// detached, and ok=false on timeout, pause, or close with nothing queued.
func (q *outQueue) accumulate(maxBytes, maxCount int, wait time.Duration) (head *Msg, n int, size int, ok bool) {
	deadline := time.Now().Add(wait)
	var timer *time.Timer
	if wait > 0 {
		timer = time.AfterFunc(wait, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.paused && !q.closed {
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, 0, 0, false
		}
		q.cond.Wait()
	}
	if q.paused || q.closed || q.head == nil {
		return nil, 0, 0, false
	}

	cur := q.head
	var tailOut *Msg
	for cur != nil && n < maxCount {
		msz := cur.wireSize()
		if n > 0 && maxBytes > 0 && size+msz > maxBytes {
			break
		}
		nxt := cur.next
		if head == nil {
			head = cur
		} else {
			tailOut.next = cur
		}
		tailOut = cur
		n++
		size += msz
		cur = nxt
	}
	if tailOut != nil {
		tailOut.next = nil
	}
	q.head = cur
	if q.head == nil {
		q.tail = nil
	}
	q.count -= n
	q.bytes -= size
	q.cond.Broadcast()
	return head, n, size, true
}

// pause blocks accumulators until resume is called, without tearing down
// any queued state (spec §4.C) — used across reconnect.
func (q *outQueue) pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *outQueue) resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// filter drops every queued message matching predicate, such as PING/PONG
// control lines that became stale across a reconnect. The connection itself
// does not call it: queued PING/PONG lines are kept across a reconnect.
func (q *outQueue) filter(pred func(*Msg) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var newHead, newTail *Msg
	for cur := q.head; cur != nil; {
		nxt := cur.next
		if pred(cur) {
			q.count--
			q.bytes -= cur.wireSize()
		} else {
			cur.next = nil
			if newHead == nil {
				newHead = cur
			} else {
				newTail.next = cur
			}
			newTail = cur
		}
		cur = nxt
	}
	q.head, q.tail = newHead, newTail
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func isControlLine(prefix string) func(*Msg) bool {
	return func(m *Msg) bool {
		return m.raw != nil && len(m.raw) >= len(prefix) && string(m.raw[:len(prefix)]) == prefix
	}
}
