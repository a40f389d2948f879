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
	"time"

	"github.com/nats-io/nuid"
)

var globalNuid = nuid.New()

func nuidNext() string {
	return globalNuid.Next()
}

// Request publishes payload on subject and blocks for a single reply,
// routed through the connection's one wildcard inbox subscription rather
// than a per-request SUB/UNSUB (spec §4.E, §9): a token keyed off that
// shared inbox correlates the reply, so no extra server round-trip is
// spent setting up or tearing down interest per call.
func (nc *Conn) Request(subject string, data []byte, timeout time.Duration) (*Msg, error) {
	return nc.requestWithHeaders(subject, nil, data, timeout)
}

// RequestMsg is Request taking a pre-built Msg (subject, headers, data).
func (nc *Conn) RequestMsg(m *Msg, timeout time.Duration) (*Msg, error) {
	return nc.requestWithHeaders(m.Subject, m.Header, m.Data, timeout)
}

func (nc *Conn) requestWithHeaders(subject string, hdr Header, data []byte, timeout time.Duration) (*Msg, error) {
	nc.mu.RLock()
	if nc.status == CLOSED {
		nc.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	nc.mu.RUnlock()

	token := nuidNext()
	reply := nc.inboxPrefix + token
	ch := make(chan *Msg, 1)

	nc.reqMu.Lock()
	nc.reqWaiters[token] = ch
	nc.reqMu.Unlock()

	cleanup := func() {
		nc.reqMu.Lock()
		delete(nc.reqWaiters, token)
		nc.reqMu.Unlock()
	}

	if err := nc.publish(subject, reply, hdr, data); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case m, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return m, nil
	case <-time.After(timeout):
		cleanup()
		return nil, ErrTimeout
	}
}

// NewInbox generates a unique, per-call reply subject rooted at this
// connection's inbox prefix, for callers that want a response subject
// without going through Request.
func (nc *Conn) NewInbox() string {
	return nc.inboxPrefix + nuidNext()
}
