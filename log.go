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

// Diagnostic logging follows the zerolog conventions used by the pack's
// nats.go consumer applications (adred-codev-ws_poc/src/logger.go): a
// single *zerolog.Logger threaded through the connection, structured
// fields rather than formatted strings, and no logging at all when the
// caller leaves Options.Logger nil (loggerOrNop in options.go).

func (nc *Conn) logDebug(msg string) {
	nc.log.Debug().Str("server", nc.currentServerString()).Msg(msg)
}

func (nc *Conn) logInfo(msg string) {
	nc.log.Info().Str("server", nc.currentServerString()).Msg(msg)
}

func (nc *Conn) logWarn(msg string, err error) {
	ev := nc.log.Warn().Str("server", nc.currentServerString())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

func (nc *Conn) logError(msg string, err error) {
	ev := nc.log.Error().Str("server", nc.currentServerString())
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

func (nc *Conn) currentServerString() string {
	if nc.pool == nil {
		return ""
	}
	cur := nc.pool.Current()
	if cur == nil {
		return ""
	}
	return cur.HostPort()
}
