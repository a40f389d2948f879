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

// dispQueue is the bounded inbound delivery queue shared by pull
// subscriptions (one per Subscription) and push Dispatchers (one per
// Dispatcher, shared by every subscription it owns). Overflow drops the
// oldest message(s) rather than blocking or rejecting the newest, per spec
// §4.E ("Slow push consumers ... overflow drops oldest").
type dispQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	head   *Msg
	tail   *Msg
	count  int
	bytes  int

	maxCount int
	maxBytes int
	closed   bool
}

func newDispQueue(maxCount, maxBytes int) *dispQueue {
	q := &dispQueue{maxCount: maxCount, maxBytes: maxBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends m, dropping the oldest queued messages if the pending
// count/byte caps are exceeded. Returns the number of messages dropped.
func (q *dispQueue) push(m *Msg) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	m.next = nil
	if q.tail != nil {
		q.tail.next = m
	} else {
		q.head = m
	}
	q.tail = m
	q.count++
	q.bytes += len(m.Data)

	dropped := 0
	for (q.maxCount > 0 && q.count > q.maxCount) || (q.maxBytes > 0 && q.bytes > q.maxBytes) {
		if q.head == m {
			// Never drop the message we just appended when it's alone.
			break
		}
		d := q.head
		q.head = d.next
		if q.head == nil {
			q.tail = nil
		}
		q.count--
		q.bytes -= len(d.Data)
		dropped++
	}
	q.cond.Broadcast()
	return dropped
}

// pop blocks until a message is available or the queue is closed.
func (q *dispQueue) pop() (*Msg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.closed {
		q.cond.Wait()
	}
	if q.head == nil {
		return nil, false
	}
	return q.popLocked(), true
}

// popTimeout blocks up to wait for a message, as used by Subscription.NextMsg.
func (q *dispQueue) popTimeout(wait time.Duration) (*Msg, bool) {
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
	for q.head == nil && !q.closed {
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, false
		}
		q.cond.Wait()
	}
	if q.head == nil {
		return nil, false
	}
	return q.popLocked(), true
}

func (q *dispQueue) popLocked() *Msg {
	m := q.head
	q.head = m.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	q.bytes -= len(m.Data)
	m.next = nil
	return m
}

func (q *dispQueue) pending() (msgs, bytes int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count, q.bytes
}

func (q *dispQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
