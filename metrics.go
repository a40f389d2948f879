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

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the optional prometheus instrumentation surface, grounded on
// adred-codev-ws_poc/src/metrics.go's counter/gauge layout for a nats.go
// consumer. A Metrics value is safe to share across multiple Connections;
// pass the same *Metrics to every Options that should aggregate together,
// or leave Options.Metrics nil to disable instrumentation entirely.
type Metrics struct {
	messagesIn  *prometheus.CounterVec
	messagesOut *prometheus.CounterVec
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	reconnects  prometheus.Counter
	slowConsumer *prometheus.CounterVec
	outqDepth   prometheus.Gauge
}

// NewMetrics registers the connection's metrics with reg under the given
// namespace and returns a Metrics ready to attach via Options.Metrics.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_in_total", Help: "Messages received, by subject.",
		}, []string{"subject"}),
		messagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_out_total", Help: "Messages published, by subject.",
		}, []string{"subject"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_in_total", Help: "Payload bytes received.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_out_total", Help: "Payload bytes published.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total", Help: "Successful reconnect completions.",
		}),
		slowConsumer: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumer_drops_total", Help: "Dropped messages, by subject.",
		}, []string{"subject"}),
		outqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outq_depth", Help: "Messages currently queued for write.",
		}),
	}
	reg.MustRegister(m.messagesIn, m.messagesOut, m.bytesIn, m.bytesOut, m.reconnects, m.slowConsumer, m.outqDepth)
	return m
}

func (m *Metrics) observeIn(subject string, n int) {
	if m == nil {
		return
	}
	m.messagesIn.WithLabelValues(subject).Inc()
	m.bytesIn.Add(float64(n))
}

func (m *Metrics) observeOut(subject string, n int) {
	if m == nil {
		return
	}
	m.messagesOut.WithLabelValues(subject).Inc()
	m.bytesOut.Add(float64(n))
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) observeSlowConsumer(subject string) {
	if m == nil {
		return
	}
	m.slowConsumer.WithLabelValues(subject).Inc()
}

func (m *Metrics) setOutqDepth(n int) {
	if m == nil {
		return
	}
	m.outqDepth.Set(float64(n))
}
