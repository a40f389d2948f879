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

// Publish sends subject/data with no reply-to and no headers.
func (nc *Conn) Publish(subject string, data []byte) error {
	return nc.publish(subject, "", nil, data)
}

// PublishMsg sends a fully-populated Msg (subject, reply, headers, data).
func (nc *Conn) PublishMsg(m *Msg) error {
	return nc.publish(m.Subject, m.Reply, m.Header, m.Data)
}

// PublishRequest sends subject/data with reply set, without waiting for a
// response, for callers that route the reply themselves.
func (nc *Conn) PublishRequest(subject, reply string, data []byte) error {
	return nc.publish(subject, reply, nil, data)
}

func (nc *Conn) publish(subject, reply string, hdr Header, data []byte) error {
	if subject == "" {
		return ErrBadSubject
	}

	nc.mu.RLock()
	status := nc.status
	maxPayload := nc.info.MaxPayload
	nc.mu.RUnlock()

	if maxPayload > 0 && int64(len(data)) > maxPayload {
		return ErrMaxPayloadExceeded
	}

	m := newPubMsg(subject, reply, hdr, data)

	switch status {
	case CLOSED:
		return ErrConnectionClosed
	case RECONNECTING, CONNECTING, DISCONNECTED:
		if err := nc.rbuf.append(m); err != nil {
			return err
		}
		return nil
	}

	nc.outq.push(m, false)
	nc.metrics.observeOut(subject, len(data))
	nc.statsMu.Lock()
	nc.stats.OutMsgs++
	nc.stats.OutBytes += uint64(len(data))
	nc.statsMu.Unlock()
	return nil
}

// Subscribe registers an asynchronous push subscription delivered through
// the connection's shared Dispatcher.
func (nc *Conn) Subscribe(subject string, handler MsgHandler) (*Subscription, error) {
	return nc.subscribe(subject, "", ModePush, handler)
}

// QueueSubscribe registers an asynchronous push subscription within a
// queue group, so only one member of the group receives each message.
func (nc *Conn) QueueSubscribe(subject, queue string, handler MsgHandler) (*Subscription, error) {
	return nc.subscribeQueue(subject, queue, ModePush, handler)
}

// SubscribeSync registers a synchronous pull subscription consumed via
// Subscription.NextMsg.
func (nc *Conn) SubscribeSync(subject string) (*Subscription, error) {
	return nc.subscribe(subject, "", ModePull, nil)
}

// QueueSubscribeSync registers a synchronous pull subscription within a
// queue group.
func (nc *Conn) QueueSubscribeSync(subject, queue string) (*Subscription, error) {
	return nc.subscribeQueue(subject, queue, ModePull, nil)
}

func (nc *Conn) subscribe(subject, queue string, mode SubMode, handler MsgHandler) (*Subscription, error) {
	return nc.subscribeQueue(subject, queue, mode, handler)
}

func (nc *Conn) subscribeQueue(subject, queue string, mode SubMode, handler MsgHandler) (*Subscription, error) {
	if subject == "" {
		return nil, ErrBadSubject
	}
	nc.mu.RLock()
	if nc.status == CLOSED {
		nc.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	nc.mu.RUnlock()

	sub := &Subscription{Subject: subject, Queue: queue, mode: mode, conn: nc, handler: handler}
	if mode == ModePull {
		sub.pullQ = newDispQueue(nc.opts.maxPendingMsgs(), nc.opts.maxPendingBytes())
	} else {
		sub.disp = nc.disp
	}
	sid := nc.subs.add(sub)
	nc.outq.push(newControlMsg(encodeSub(sid, subject, queue)), true)
	return sub, nil
}

func (nc *Conn) unsubscribe(sub *Subscription, max int) error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	if max > 0 {
		sub.max = uint64(max)
		sub.mu.Unlock()
		nc.outq.push(newControlMsg(encodeUnsub(sub.sid, max)), true)
		return nil
	}
	sub.closed = true
	sid := sub.sid
	mode := sub.mode
	sub.mu.Unlock()

	nc.subs.remove(sid)
	if mode == ModePull {
		sub.closePull()
	}
	nc.mu.RLock()
	status := nc.status
	nc.mu.RUnlock()
	if status != CLOSED {
		nc.outq.push(newControlMsg(encodeUnsub(sid, 0)), true)
	}
	return nil
}
