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
	"math/rand"
	"strings"
	"time"
)

const pingLine = "PING\r\n"
const pongLine = "PONG\r\n"

// jitterDuration returns a random duration in [0, max), used to spread
// reconnect attempts across many clients avoiding a thundering herd
// against a recovering server (spec §4.F).
func jitterDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// isAuthFailure classifies a server -ERR payload as a fatal authentication
// failure (the connection is closed and no further reconnect attempts are
// made) versus a transient/non-fatal protocol error, per the Open Question decision
// recorded in DESIGN.md: any -ERR mentioning authorization, authentication,
// or account is treated as fatal.
func isAuthFailure(reason string) bool {
	s := strings.ToLower(reason)
	return strings.Contains(s, "authorization") ||
		strings.Contains(s, "authentication") ||
		strings.Contains(s, "account")
}

func orEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
