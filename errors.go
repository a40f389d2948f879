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
	"errors"
	"fmt"
)

// ErrorKind classifies the typed failures the core surfaces to callers,
// per the error taxonomy in the connection runtime spec.
type ErrorKind int

const (
	KindClosed ErrorKind = iota
	KindDisconnected
	KindTimeout
	KindNoServers
	KindAuthFailed
	KindAuthViolation
	KindSlowConsumer
	KindProtocolError
	KindMaxPayloadExceeded
	KindIllegalState
	KindBadSubject
	KindTlsError
	KindIoError
	KindStaleConnection
)

func (k ErrorKind) String() string {
	switch k {
	case KindClosed:
		return "closed"
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	case KindNoServers:
		return "no_servers"
	case KindAuthFailed:
		return "auth_failed"
	case KindAuthViolation:
		return "auth_violation"
	case KindSlowConsumer:
		return "slow_consumer"
	case KindProtocolError:
		return "protocol_error"
	case KindMaxPayloadExceeded:
		return "max_payload_exceeded"
	case KindIllegalState:
		return "illegal_state"
	case KindBadSubject:
		return "bad_subject"
	case KindTlsError:
		return "tls_error"
	case KindIoError:
		return "io_error"
	case KindStaleConnection:
		return "stale_connection"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by core operations. Use errors.As to
// recover the Kind and wrapped cause.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("natscore: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("natscore: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func wrapError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// IsErrorKind reports whether err (or anything it wraps) carries the given Kind.
func IsErrorKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel errors for the common, argument-less cases. Server-reported
// reasons and wrapped I/O causes use wrapError/newError directly instead.
var (
	ErrConnectionClosed   = newError(KindClosed, "connection closed")
	ErrDisconnected       = newError(KindDisconnected, "disconnected")
	ErrTimeout            = newError(KindTimeout, "timeout")
	ErrNoServers          = newError(KindNoServers, "no servers available")
	ErrAuthFailed         = newError(KindAuthFailed, "authentication failed")
	ErrAuthViolation      = newError(KindAuthViolation, "authentication violation")
	ErrSlowConsumer       = newError(KindSlowConsumer, "slow consumer, messages dropped")
	ErrProtocolError      = newError(KindProtocolError, "protocol error")
	ErrMaxPayloadExceeded = newError(KindMaxPayloadExceeded, "maximum payload exceeded")
	ErrBadSubject         = newError(KindBadSubject, "invalid subject")
	ErrBadSubscription    = newError(KindIllegalState, "invalid subscription")
	ErrTLSRequired        = newError(KindTlsError, "secure connection required")
	ErrTLSNotAvailable    = newError(KindTlsError, "secure connection not available")
	ErrStaleConnection    = newError(KindStaleConnection, "stale connection")
)
