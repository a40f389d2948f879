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
	"testing"
	"time"
)

func testOptions(b *mockBroker) Options {
	o := DefaultOptions
	o.Servers = []string{b.url()}
	o.NoRandomize = true
	o.ConnectionTimeout = time.Second
	return o
}

func TestConnectPublishSubscribeDeliversInOrder(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	sub, err := nc.Subscribe("orders.*", func(m *Msg) {
		mu.Lock()
		got = append(got, string(m.Data))
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.FlushTimeout(time.Second); err != nil {
		t.Fatalf("flush after subscribe: %v", err)
	}

	for _, p := range []string{"1", "2", "3"} {
		if err := nc.Publish("orders.new", []byte(p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive all 3 messages in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
}

func TestFlushRoundTrip(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	if err := nc.FlushTimeout(time.Second); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestRequestReplyViaSharedInbox(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe("svc.echo", func(m *Msg) {
		nc.Publish(m.Reply, append([]byte("echo:"), m.Data...))
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.FlushTimeout(time.Second); err != nil {
		t.Fatalf("flush after subscribe: %v", err)
	}

	reply, err := nc.Request("svc.echo", []byte("hi"), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(reply.Data) != "echo:hi" {
		t.Fatalf("unexpected reply: %q", reply.Data)
	}
}

func TestRequestTimesOutWithNoResponder(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	_, err = nc.Request("nobody.home", []byte("hi"), 100*time.Millisecond)
	if !IsErrorKind(err, KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	nc.Close()

	if err := nc.Publish("foo", []byte("x")); !IsErrorKind(err, KindClosed) {
		t.Fatalf("expected Closed, got %v", err)
	}
}

func TestSyncSubscriptionNextMsg(t *testing.T) {
	b := newMockBroker(t)
	defer b.close()

	nc, err := testOptions(b).Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("pull.subj")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.FlushTimeout(time.Second); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := nc.Publish("pull.subj", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if string(m.Data) != "payload" {
		t.Fatalf("unexpected payload: %q", m.Data)
	}
}
