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
	"sync/atomic"
	"testing"
	"time"
)

// TestSimpleReconnectResubscribes drives spec.md §8 scenario 1: connect,
// subscribe, kill the server connection, let the Reconnector reattach to
// the same listener, and verify the subscription still delivers without
// the caller re-issuing Subscribe.
func TestSimpleReconnectResubscribes(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	o := testOptions(b)
	o.ReconnectWait = 50 * time.Millisecond
	o.ReconnectJitter = 10 * time.Millisecond
	o.MaxReconnect = 10

	var reconnected int32
	o.ReconnectedCB = func(nc *Conn, ev Event) {
		atomic.AddInt32(&reconnected, 1)
	}

	nc, err := o.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	received := make(chan string, 10)
	sub, err := nc.Subscribe("sub.subj", func(m *Msg) {
		received <- string(m.Data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.FlushTimeout(time.Second); err != nil {
		t.Fatalf("flush: %v", err)
	}

	b.kill()
	b.acceptNext()

	deadline := time.After(5 * time.Second)
	for atomic.LoadInt32(&reconnected) == 0 {
		select {
		case <-deadline:
			t.Fatalf("did not observe a reconnect within 5s")
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := nc.FlushTimeout(2 * time.Second); err != nil {
		t.Fatalf("flush after reconnect: %v", err)
	}

	if err := nc.Publish("sub.subj", []byte("after-reconnect")); err != nil {
		t.Fatalf("publish after reconnect: %v", err)
	}

	select {
	case got := <-received:
		if got != "after-reconnect" {
			t.Fatalf("unexpected payload: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription did not deliver after reconnect: resubscription was not replayed")
	}
}

// TestMaxReconnectsExhaustedClosesConnection drives spec.md §8 scenario 6.
func TestMaxReconnectsExhaustedClosesConnection(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	o := testOptions(b)
	o.ReconnectWait = 10 * time.Millisecond
	o.ReconnectJitter = 0
	o.MaxReconnect = 1

	nc, err := o.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	b.close() // listener gone entirely: every further dial fails

	deadline := time.After(3 * time.Second)
	for nc.Status() != CLOSED {
		select {
		case <-deadline:
			t.Fatalf("connection did not transition to CLOSED after exhausting reconnects")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
