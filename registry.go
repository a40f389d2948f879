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

// subRegistry assigns SIDs (the server echoes them on every MSG/HMSG) and
// maps them to their Subscription. Routing
// inbound MSG/HMSG by SID (rather than re-matching Subject) is the
// authoritative path: the server has already done subject matching, and the
// SID survives resubscription replay across a reconnect unchanged (spec
// §4.E, §4.F).
type subRegistry struct {
	mu      sync.Mutex
	byID    map[uint64]*Subscription
	nextSID uint64
}

func newSubRegistry() *subRegistry {
	return &subRegistry{byID: make(map[uint64]*Subscription)}
}

func (r *subRegistry) add(s *Subscription) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSID++
	s.sid = r.nextSID
	r.byID[s.sid] = s
	return s.sid
}

func (r *subRegistry) get(sid uint64) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[sid]
}

func (r *subRegistry) remove(sid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sid)
}

// all returns a snapshot of every live subscription, used to replay SUB
// lines after a reconnect.
func (r *subRegistry) all() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *subRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// deliver routes an inbound Msg to its owning Subscription, choosing the
// pull queue or the dispatcher according to the subscription's mode.
// Returns false if sid names no live subscription (a stale delivery racing
// an in-flight UNSUB, which is not an error).
func (r *subRegistry) deliver(sid uint64, m *Msg) bool {
	r.mu.Lock()
	s := r.byID[sid]
	r.mu.Unlock()
	if s == nil {
		return false
	}
	m.Sub = s

	s.mu.Lock()
	closed := s.closed
	mode := s.mode
	pullQ := s.pullQ
	disp := s.disp
	s.mu.Unlock()
	if closed {
		return false
	}

	switch mode {
	case ModePull:
		if dropped := pullQ.push(m); dropped > 0 {
			s.recordSlow()
		}
	case ModePush:
		disp.deliver(m)
	}
	return true
}
