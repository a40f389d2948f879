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

import "sync"

// Dispatcher is a single goroutine draining a shared delivery queue and
// invoking each message's owning Subscription's handler in receipt order
// (spec §4.E). Each connection runs exactly one Dispatcher, shared by every
// async subscription on it, matching the teacher's single deliverMsgs loop
// per Conn; no further dispatchers can be created, so a slow handler delays
// every push subscription on the connection.
type Dispatcher struct {
	q      *dispQueue
	nc     *Conn
	wg     sync.WaitGroup
	once   sync.Once
}

func newDispatcher(nc *Conn, maxMsgs, maxBytes int) *Dispatcher {
	d := &Dispatcher{nc: nc, q: newDispQueue(maxMsgs, maxBytes)}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		m, ok := d.q.pop()
		if !ok {
			return
		}
		sub := m.Sub
		if sub == nil {
			continue
		}
		sub.mu.Lock()
		handler := sub.handler
		closed := sub.closed
		sub.delivered++
		maxReached := sub.max > 0 && sub.delivered >= sub.max
		sub.mu.Unlock()
		if closed || handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.nc.fireErrEvent(sub, wrapError(KindIllegalState, "panic in message handler", nil))
				}
			}()
			handler(m)
		}()
		if maxReached {
			d.nc.unsubscribe(sub, 0)
		}
	}
}

// deliver enqueues m for asynchronous delivery, recording a slow-consumer
// drop against sub when the shared queue overflows.
func (d *Dispatcher) deliver(m *Msg) {
	if dropped := d.q.push(m); dropped > 0 {
		if sub := m.Sub; sub != nil {
			sub.recordSlow()
			d.nc.notifySlowConsumer(sub)
		}
	}
}

func (d *Dispatcher) close() {
	d.once.Do(func() {
		d.q.close()
	})
	d.wg.Wait()
}
