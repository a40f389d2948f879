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
	"context"
	"sync"
	"time"
)

type reconnectorState int

const (
	reconnIdle reconnectorState = iota
	reconnPendingRetry
	reconnConnecting
	reconnResubscribing
	reconnDrained
)

// reconnectBuffer is the bounded FIFO of user publishes held while the
// connection is not CONNECTED (spec §4.F). capacity semantics: 0 disables
// buffering entirely (publish fails synchronously), -1 is unlimited,
// positive N bounds the aggregate byte size.
type reconnectBuffer struct {
	mu       sync.Mutex
	head     *Msg
	tail     *Msg
	bytes    int
	capacity int
}

func newReconnectBuffer(capacity int) *reconnectBuffer {
	return &reconnectBuffer{capacity: capacity}
}

// append adds m to the buffer, or reports failure: reconnect_buffer_size = 0
// always fails; a positive cap fails synchronously once it would be
// exceeded, by design, so the caller learns rather than silently queuing
// unboundedly (spec §4.F).
func (b *reconnectBuffer) append(m *Msg) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity == 0 {
		return wrapError(KindIllegalState, "reconnect buffering disabled", nil)
	}
	sz := m.wireSize()
	if b.capacity > 0 && b.bytes+sz > b.capacity {
		return wrapError(KindIllegalState, "reconnect buffer would overflow", nil)
	}
	m.next = nil
	if b.tail != nil {
		b.tail.next = m
	} else {
		b.head = m
	}
	b.tail = m
	b.bytes += sz
	return nil
}

// drain detaches the entire buffered chain in FIFO order.
func (b *reconnectBuffer) drain() *Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	head := b.head
	b.head, b.tail, b.bytes = nil, nil, 0
	return head
}

// reconnector drives endpoint selection, backoff, and the resubscribe/
// reconnect-buffer replay sequence described in spec §4.F. doReconnect runs
// on a goroutine that handleCommIssue starts for each reconnect cycle.
type reconnector struct {
	nc    *Conn
	mu    sync.Mutex
	state reconnectorState
}

func newReconnector(nc *Conn) *reconnector {
	return &reconnector{nc: nc}
}

// doReconnect implements spec §4.F steps 1-4. It returns once the
// connection is CONNECTED again or the pool is exhausted (CLOSED).
func (r *reconnector) doReconnect(ctx context.Context) {
	nc := r.nc

	r.mu.Lock()
	r.state = reconnPendingRetry
	r.mu.Unlock()

	// status is already RECONNECTING: handleCommIssue set it before
	// spawning this goroutine, so only one reconnect cycle is ever active.
	nc.fireEvent(EventDisconnected)
	nc.outq.pause()
	nc.stopPingTimer()

	// Stop the failed transport's writer so that only the writer started
	// by finishReconnect drains the replayed SUB lines and outq.
	nc.mu.RLock()
	oldWr := nc.wr
	nc.mu.RUnlock()
	if oldWr != nil {
		oldWr.stop()
	}

	attempts := 0
	maxTotal := nc.opts.maxReconnectsOrDefault()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ep := nc.pool.Current()
		if ep == nil {
			nc.finishClose(ErrNoServers)
			return
		}

		if maxTotal >= 0 && attempts >= maxTotal {
			nc.finishClose(ErrNoServers)
			return
		}

		wait := nc.opts.reconnectWaitWithJitter(ep.isTLS())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if ep.attempts >= maxTotal && maxTotal >= 0 {
			nc.pool.Advance()
			continue
		}

		r.mu.Lock()
		r.state = reconnConnecting
		r.mu.Unlock()

		attempts++
		ep.attempts++

		info, tr, lr, err := nc.dialAndHandshake(ctx, ep.Endpoint)
		if err != nil {
			if IsErrorKind(err, KindAuthFailed) {
				nc.finishClose(err)
				return
			}
			nc.logWarn("reconnect attempt failed", err)
			nc.pool.Advance()
			continue
		}

		r.mu.Lock()
		r.state = reconnResubscribing
		r.mu.Unlock()

		nc.finishReconnect(tr, lr, info)
		nc.metrics.observeReconnect()

		r.mu.Lock()
		r.state = reconnDrained
		r.mu.Unlock()
		return
	}
}
