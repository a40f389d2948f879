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

// Status is the Connection's top-level state. Transitions are total and
// observable through the status listener.
type Status int

const (
	DISCONNECTED Status = iota
	CONNECTING
	CONNECTED
	RECONNECTING
	CLOSED
)

func (s Status) String() string {
	switch s {
	case DISCONNECTED:
		return "disconnected"
	case CONNECTING:
		return "connecting"
	case CONNECTED:
		return "connected"
	case RECONNECTING:
		return "reconnecting"
	case CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to the status listener. fireEvent runs the callback on
// whichever goroutine makes the transition (reader, reconnector, or Close);
// callbacks fired from different goroutines are not serialized against each
// other.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
	EventClosed
	EventReconnected
	EventResubscribed
	EventDiscoveredServers
	EventLameDuck
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventClosed:
		return "closed"
	case EventReconnected:
		return "reconnected"
	case EventResubscribed:
		return "resubscribed"
	case EventDiscoveredServers:
		return "discovered_servers"
	case EventLameDuck:
		return "lame_duck"
	default:
		return "unknown"
	}
}

// StatusHandler receives connection lifecycle events.
type StatusHandler func(nc *Conn, ev Event)

// ErrHandler processes asynchronous errors encountered while processing
// inbound messages or server -ERR lines. sub is nil for connection-level
// errors not tied to a particular subscription.
type ErrHandler func(nc *Conn, sub *Subscription, err error)

// Stats tracks message/byte counters and the reconnect count, as in the
// teacher's Stats struct.
type Stats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}
