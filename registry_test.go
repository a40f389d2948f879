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

func TestRegistrySIDsAreUniqueAndMonotonic(t *testing.T) {
	r := newSubRegistry()
	s1 := &Subscription{Subject: "a"}
	s2 := &Subscription{Subject: "b"}
	sid1 := r.add(s1)
	sid2 := r.add(s2)
	if sid1 == sid2 {
		t.Fatalf("expected distinct SIDs, got %d and %d", sid1, sid2)
	}
	if sid2 <= sid1 {
		t.Fatalf("expected monotonically increasing SIDs")
	}
}

func TestRegistryDeliverRoutesBySIDNotSubject(t *testing.T) {
	r := newSubRegistry()
	s := &Subscription{Subject: "original.subject", mode: ModePull, pullQ: newDispQueue(0, 0)}
	sid := r.add(s)

	// The server has already matched; the inbound line's subject need not
	// equal the subscription's original subject for SID routing to work.
	ok := r.deliver(sid, &Msg{Subject: "server.reported.subject"})
	if !ok {
		t.Fatalf("expected delivery to succeed for a live SID")
	}
	m, ok := s.pullQ.pop()
	if !ok || m.Subject != "server.reported.subject" {
		t.Fatalf("unexpected delivered message: %+v ok=%v", m, ok)
	}
}

func TestRegistryDeliverToStaleSIDReturnsFalse(t *testing.T) {
	r := newSubRegistry()
	if r.deliver(999, &Msg{Subject: "x"}) {
		t.Fatalf("expected delivery to an unknown SID to report false")
	}
}

func TestRegistryRemoveStopsFutureDelivery(t *testing.T) {
	r := newSubRegistry()
	s := &Subscription{Subject: "a", mode: ModePull, pullQ: newDispQueue(0, 0)}
	sid := r.add(s)
	r.remove(sid)
	if r.deliver(sid, &Msg{Subject: "a"}) {
		t.Fatalf("expected delivery after remove to report false")
	}
}

func TestRegistryDeliverPushRoutesThroughDispatcher(t *testing.T) {
	nc := &Conn{}
	nc.init()
	d := newDispatcher(nc, 0, 0)
	var got *Msg
	done := make(chan struct{})
	s := &Subscription{Subject: "a", mode: ModePush, disp: d}
	s.handler = func(m *Msg) {
		got = m
		close(done)
	}
	defer d.close()

	r := newSubRegistry()
	sid := r.add(s)
	r.deliver(sid, &Msg{Subject: "a", Data: []byte("x")})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("push delivery was not handled in time")
	}
	if got == nil || string(got.Data) != "x" {
		t.Fatalf("unexpected delivered message: %+v", got)
	}
}
