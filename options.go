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
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"
)

const (
	Version       = "0.1.0"
	DefaultURL    = "nats://localhost:4222"
	DefaultPort   = 4222
	InboxPrefix   = "_INBOX."
)

const (
	DefaultMaxReconnect        = 60
	DefaultReconnectWait       = 2 * time.Second
	DefaultReconnectJitter     = 100 * time.Millisecond
	DefaultReconnectJitterTLS  = time.Second
	DefaultConnectionTimeout   = 2 * time.Second
	DefaultMaxMessagesInOutQ   = 65536
	DefaultBufferSize          = 32768
	DefaultPingInterval        = 2 * time.Minute
	DefaultMaxPingsOut         = 2
	DefaultFlushTimeout        = 10 * time.Second
	DefaultMaxPendingMsgs      = 65536
	DefaultMaxPendingBytes     = 64 * 1024 * 1024
)

// UserInfo carries plain username/password credentials.
type UserInfo struct {
	User     string
	Password string
}

// Options configures a Connection. The builder/fluent-options convenience
// surface is out of scope for the core; this is a plain struct, constructed
// and mutated directly, mirroring the teacher's Options/DefaultOptions.
type Options struct {
	// Endpoint pool (spec §3, §6).
	Servers     []string
	NoRandomize bool

	// CONNECT fields (spec §6).
	Name     string
	Verbose  bool
	Pedantic bool
	NoEcho   bool

	// TLS / auth.
	Secure    bool
	TLSConfig *tls.Config
	UserInfo  *UserInfo
	Token     string
	NKeySeed  string

	// Reconnection (spec §4.F, §6).
	AllowReconnect     bool
	MaxReconnect       int // -1 = unlimited
	ReconnectWait      time.Duration
	ReconnectJitter    time.Duration
	ReconnectJitterTLS time.Duration
	ConnectionTimeout  time.Duration

	// Reconnect buffer (spec §4.F).
	ReconnectBufferSize int // bytes; 0 disables, -1 unlimited

	// Write Queue (spec §4.C, §6).
	MaxMessagesInOutgoingQueue           int
	MaxBytesInOutgoingQueue              int
	DiscardMessagesWhenOutgoingQueueFull bool

	// Writer batching (spec §4.D).
	BufferSize int // max_write_size

	// Keepalive (spec §6).
	PingInterval time.Duration
	MaxPingsOut  int

	// Dispatcher / pull subscription pending caps (spec §4.E).
	MaxPendingMsgs  int
	MaxPendingBytes int

	// Listeners (spec §4.G).
	ClosedCB            StatusHandler
	DisconnectedCB      StatusHandler
	ReconnectedCB       StatusHandler
	ResubscribedCB      StatusHandler
	DiscoveredServersCB StatusHandler
	LameDuckModeCB      StatusHandler
	AsyncErrorCB        ErrHandler

	// Ambient stack (SPEC_FULL.md "AMBIENT STACK").
	Logger  *zerolog.Logger
	Metrics *Metrics
}

// DefaultOptions mirrors the teacher's DefaultOptions: reconnection enabled
// with sane bounded defaults.
var DefaultOptions = Options{
	AllowReconnect:                       true,
	MaxReconnect:                         DefaultMaxReconnect,
	ReconnectWait:                        DefaultReconnectWait,
	ReconnectJitter:                      DefaultReconnectJitter,
	ReconnectJitterTLS:                   DefaultReconnectJitterTLS,
	ConnectionTimeout:                    DefaultConnectionTimeout,
	ReconnectBufferSize:                  8 * 1024 * 1024,
	MaxMessagesInOutgoingQueue:           DefaultMaxMessagesInOutQ,
	DiscardMessagesWhenOutgoingQueueFull: false,
	BufferSize:                           DefaultBufferSize,
	PingInterval:                         DefaultPingInterval,
	MaxPingsOut:                          DefaultMaxPingsOut,
	MaxPendingMsgs:                       DefaultMaxPendingMsgs,
	MaxPendingBytes:                      DefaultMaxPendingBytes,
}

func (o Options) serversOrDefault() []string {
	if len(o.Servers) == 0 {
		return []string{DefaultURL}
	}
	return o.Servers
}

func (o Options) connectionTimeout() time.Duration {
	if o.ConnectionTimeout <= 0 {
		return DefaultConnectionTimeout
	}
	return o.ConnectionTimeout
}

func (o Options) bufferSize() int {
	if o.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

func (o Options) maxReconnectsOrDefault() int {
	if o.MaxReconnect == 0 {
		return DefaultMaxReconnect
	}
	return o.MaxReconnect
}

func (o Options) maxMessages() int {
	if o.MaxMessagesInOutgoingQueue <= 0 {
		return DefaultMaxMessagesInOutQ
	}
	return o.MaxMessagesInOutgoingQueue
}

func (o Options) maxPendingMsgs() int {
	if o.MaxPendingMsgs <= 0 {
		return DefaultMaxPendingMsgs
	}
	return o.MaxPendingMsgs
}

func (o Options) maxPendingBytes() int {
	if o.MaxPendingBytes <= 0 {
		return DefaultMaxPendingBytes
	}
	return o.MaxPendingBytes
}

func (o Options) overflowPolicy() overflowPolicy {
	if o.DiscardMessagesWhenOutgoingQueueFull {
		return policyDiscardNew
	}
	return policyBlock
}

func (o Options) reconnectWaitWithJitter(tlsEndpoint bool) time.Duration {
	base := o.ReconnectWait
	if base <= 0 {
		base = DefaultReconnectWait
	}
	jitter := o.ReconnectJitter
	if tlsEndpoint {
		jitter = o.ReconnectJitterTLS
		if jitter <= 0 {
			jitter = DefaultReconnectJitterTLS
		}
	} else if jitter <= 0 {
		jitter = DefaultReconnectJitter
	}
	return base + jitterDuration(jitter)
}

// Connect dials using o, following the teacher's Options.Connect() shape.
func (o Options) Connect() (*Conn, error) {
	nc := &Conn{opts: o}
	nc.init()
	if err := nc.connect(); err != nil {
		return nil, err
	}
	return nc, nil
}

// Connect is sugar for DefaultOptions with the given server list.
func Connect(servers ...string) (*Conn, error) {
	o := DefaultOptions
	o.Servers = servers
	return o.Connect()
}

// SecureConnect is sugar for Connect with TLS required.
func SecureConnect(servers ...string) (*Conn, error) {
	o := DefaultOptions
	o.Servers = servers
	o.Secure = true
	return o.Connect()
}

var nopLogger = zerolog.Nop()

func loggerOrNop(l *zerolog.Logger) *zerolog.Logger {
	if l == nil {
		return &nopLogger
	}
	return l
}
