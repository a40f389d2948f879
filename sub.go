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

// SubMode distinguishes a blocking pull subscription from a push
// subscription delivered through a Dispatcher handler (spec §3).
type SubMode int

const (
	ModePull SubMode = iota
	ModePush
)

// MsgHandler processes messages delivered to a push subscription.
type MsgHandler func(msg *Msg)

// Subscription represents interest in a subject, identified by a
// connection-assigned SID that the server echoes on each delivery and that
// is stable across reconnects (spec §3).
type Subscription struct {
	mu sync.Mutex

	sid     uint64
	Subject string
	Queue   string
	mode    SubMode

	conn    *Conn
	disp    *Dispatcher
	handler MsgHandler
	pullQ   *dispQueue

	delivered  uint64
	max        uint64 // auto-unsubscribe-after-N, 0 = none
	closed     bool
	slowEvents uint64
}

// IsValid reports whether the subscription is still active.
func (s *Subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Unsubscribe removes interest in the subject.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrBadSubscription
	}
	return conn.unsubscribe(s, 0)
}

// AutoUnsubscribe arranges for the subscription to stop delivery after max
// messages have been received.
func (s *Subscription) AutoUnsubscribe(max int) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrBadSubscription
	}
	return conn.unsubscribe(s, max)
}

// NextMsg blocks until a message is available on a pull (synchronous)
// subscription, or timeout elapses.
func (s *Subscription) NextMsg(timeout time.Duration) (*Msg, error) {
	s.mu.Lock()
	if s.mode != ModePull {
		s.mu.Unlock()
		return nil, wrapError(KindIllegalState, "illegal NextMsg call on an async subscription", nil)
	}
	if s.closed {
		s.mu.Unlock()
		return nil, ErrBadSubscription
	}
	q := s.pullQ
	s.mu.Unlock()

	m, ok := q.popTimeout(timeout)
	if !ok {
		return nil, ErrTimeout
	}
	s.mu.Lock()
	s.delivered++
	maxed := s.max > 0 && s.delivered > s.max
	s.mu.Unlock()
	if maxed {
		return nil, wrapError(KindIllegalState, "max messages already delivered", nil)
	}
	return m, nil
}

// Pending reports the number of delivered-but-not-yet-consumed messages and
// their total byte size. Push subscriptions always report 0, 0: their
// messages wait in the shared Dispatcher queue, which is not counted per
// subscription.
func (s *Subscription) Pending() (msgs, bytes int) {
	s.mu.Lock()
	q := s.pullQ
	mode := s.mode
	s.mu.Unlock()
	if mode == ModePull {
		return q.pending()
	}
	return 0, 0
}

// Drain is the same as Unsubscribe: messages already queued for the
// subscription but not yet handed to its handler or returned by NextMsg are
// discarded. Conn.Drain is the connection-wide unsubscribe, flush and close
// sequence.
func (s *Subscription) Drain() error {
	return s.Unsubscribe()
}

func (s *Subscription) closePull() {
	s.mu.Lock()
	q := s.pullQ
	s.mu.Unlock()
	if q != nil {
		q.close()
	}
}

func (s *Subscription) recordSlow() {
	s.mu.Lock()
	s.slowEvents++
	s.mu.Unlock()
}
