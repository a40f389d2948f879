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

const (
	maxBatchCount   = 1000
	defaultAccumWait = 50 * time.Millisecond
)

// writer is the single goroutine that owns the Transport's write side for
// one physical connection (spec §4.D). It always drains the reconnect
// queue (protocol-priority SUB/UNSUB replay) ahead of the primary Write
// Queue: this ordering falls out of checking reconnq first with a
// non-blocking accumulate and only consulting outq when reconnq is empty,
// so there is no separate "reconnect mode" flag to race against pushes
// performed by finishReconnect (spec §4.F, §5).
//
// start/stop are idempotent and the pair is reusable on the same instance
// (spec §4.D, §5 "single start-stop mutex"): a stopCh/doneCh pair is
// allocated fresh on each start, guarded by mu so a concurrent start/stop
// never races over which generation of channels it's touching, and stop
// is a blocking wait for the run loop's completion future rather than a
// fire-and-forget signal.
type writer struct {
	tr       Transport
	outq     *outQueue
	reconnq  *outQueue
	maxBatch int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	onErr func(error)
}

func newWriter(tr Transport, outq, reconnq *outQueue, maxBatchBytes int, onErr func(error)) *writer {
	return &writer{
		tr:       tr,
		outq:     outq,
		reconnq:  reconnq,
		maxBatch: maxBatchBytes,
		onErr:    onErr,
	}
}

// start is a no-op if the writer is already running.
func (w *writer) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	w.stopCh = stopCh
	w.doneCh = doneCh
	w.running = true
	go w.run(stopCh, doneCh)
}

func (w *writer) run(stopCh, doneCh chan struct{}) {
	defer func() {
		close(doneCh)
		w.mu.Lock()
		if w.doneCh == doneCh {
			w.running = false
		}
		w.mu.Unlock()
	}()
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		head, n, _, ok := w.reconnq.accumulate(w.maxBatch, maxBatchCount, 0)
		if !ok || n == 0 {
			head, n, _, ok = w.outq.accumulate(w.maxBatch, maxBatchCount, defaultAccumWait)
			if !ok || n == 0 {
				continue
			}
		}

		buf := make([]byte, 0, w.maxBatch)
		for m := head; m != nil; m = m.next {
			buf = appendEncoded(buf, m)
		}
		if _, err := w.tr.Write(buf); err != nil {
			if w.onErr != nil {
				w.onErr(err)
			}
			return
		}
	}
}

// stop is a no-op if the writer is not running, otherwise it signals the
// run loop and blocks until it has actually exited.
func (w *writer) stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}
