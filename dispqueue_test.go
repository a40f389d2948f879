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
	"testing"
	"time"
)

func TestDispQueueFIFO(t *testing.T) {
	q := newDispQueue(0, 0)
	q.push(&Msg{Subject: "a"})
	q.push(&Msg{Subject: "b"})

	m, ok := q.pop()
	if !ok || m.Subject != "a" {
		t.Fatalf("expected a first, got %+v ok=%v", m, ok)
	}
	m, ok = q.pop()
	if !ok || m.Subject != "b" {
		t.Fatalf("expected b second, got %+v ok=%v", m, ok)
	}
}

func TestDispQueueDropsOldestOnOverflow(t *testing.T) {
	q := newDispQueue(2, 0)
	q.push(&Msg{Subject: "a"})
	q.push(&Msg{Subject: "b"})
	dropped := q.push(&Msg{Subject: "c"})
	if dropped != 1 {
		t.Fatalf("expected 1 drop, got %d", dropped)
	}

	m, ok := q.pop()
	if !ok || m.Subject != "b" {
		t.Fatalf("expected oldest (a) dropped, b remaining first, got %+v", m)
	}
	m, ok = q.pop()
	if !ok || m.Subject != "c" {
		t.Fatalf("expected c second, got %+v", m)
	}
}

func TestDispQueuePopTimeout(t *testing.T) {
	q := newDispQueue(0, 0)
	start := time.Now()
	_, ok := q.popTimeout(30 * time.Millisecond)
	if ok {
		t.Fatalf("expected timeout on empty queue")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("popTimeout took too long")
	}
}

func TestDispQueueCloseWakesBlockedPop(t *testing.T) {
	q := newDispQueue(0, 0)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected pop to report closed (ok=false)")
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not wake a blocked pop")
	}
}

func TestDispQueuePending(t *testing.T) {
	q := newDispQueue(0, 0)
	q.push(&Msg{Subject: "a", Data: []byte("123")})
	q.push(&Msg{Subject: "b", Data: []byte("45")})
	msgs, bytes := q.pending()
	if msgs != 2 || bytes != 5 {
		t.Fatalf("unexpected pending: msgs=%d bytes=%d", msgs, bytes)
	}
}
