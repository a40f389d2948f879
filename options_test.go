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

func TestOptionsDefaultsApplyWhenUnset(t *testing.T) {
	var o Options
	if len(o.serversOrDefault()) != 1 || o.serversOrDefault()[0] != DefaultURL {
		t.Fatalf("expected default URL, got %v", o.serversOrDefault())
	}
	if o.connectionTimeout() != DefaultConnectionTimeout {
		t.Fatalf("expected default connection timeout")
	}
	if o.bufferSize() != DefaultBufferSize {
		t.Fatalf("expected default buffer size")
	}
	if o.maxReconnectsOrDefault() != DefaultMaxReconnect {
		t.Fatalf("expected default max reconnects")
	}
	if o.overflowPolicy() != policyBlock {
		t.Fatalf("expected blocking policy by default")
	}
}

func TestOptionsOverflowPolicyRespectsDiscardFlag(t *testing.T) {
	o := Options{DiscardMessagesWhenOutgoingQueueFull: true}
	if o.overflowPolicy() != policyDiscardNew {
		t.Fatalf("expected discard-new policy")
	}
}

func TestReconnectWaitWithJitterStaysWithinBounds(t *testing.T) {
	o := Options{ReconnectWait: 2 * time.Second, ReconnectJitter: 100 * time.Millisecond}
	for i := 0; i < 20; i++ {
		d := o.reconnectWaitWithJitter(false)
		if d < 2*time.Second || d >= 2*time.Second+100*time.Millisecond {
			t.Fatalf("jittered wait out of bounds: %v", d)
		}
	}
}

func TestReconnectWaitWithJitterUsesTLSJitterForTLSEndpoints(t *testing.T) {
	o := Options{
		ReconnectWait:      time.Second,
		ReconnectJitter:    10 * time.Millisecond,
		ReconnectJitterTLS: time.Second,
	}
	d := o.reconnectWaitWithJitter(true)
	if d < time.Second || d >= 2*time.Second {
		t.Fatalf("expected TLS jitter window, got %v", d)
	}
}
