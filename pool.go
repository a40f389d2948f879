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
	"net"
	"net/url"
	"strconv"
	"sync"
)

// EndpointScheme selects how the Transport should treat a candidate server.
type EndpointScheme int

const (
	SchemePlain EndpointScheme = iota
	SchemeTLS
	SchemeOpenTLS
)

// Endpoint is a resolved server address (spec §3).
type Endpoint struct {
	Scheme  EndpointScheme
	Host    string
	Port    int
	Learned bool
}

// HostPort returns the "host:port" dial target for net.Dialer.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) isTLS() bool {
	return e.Scheme == SchemeTLS || e.Scheme == SchemeOpenTLS
}

func (e Endpoint) key() string {
	return e.HostPort()
}

func parseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Bare host:port with no scheme, e.g. "127.0.0.1:4222".
		u, err = url.Parse("nats://" + raw)
		if err != nil {
			return Endpoint{}, wrapError(KindProtocolError, "invalid server url: "+raw, err)
		}
	}

	scheme := SchemePlain
	switch u.Scheme {
	case "tls":
		scheme = SchemeTLS
	case "opentls":
		scheme = SchemeOpenTLS
	case "nats", "tcp", "":
		scheme = SchemePlain
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := DefaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, wrapError(KindProtocolError, "invalid server port: "+raw, err)
		}
		port = n
	}
	return Endpoint{Scheme: scheme, Host: host, Port: port}, nil
}

type poolEndpoint struct {
	Endpoint
	attempts int
}

// EndpointPool is the candidate server list driving the Reconnector (spec
// §3, §4.F): the configured server list plus any addresses learned from a
// server's INFO connect_urls, deduplicated, with configured order either
// preserved or shuffled once at construction.
type EndpointPool struct {
	mu  sync.Mutex
	eps []*poolEndpoint
	idx int
}

func newEndpointPool(urls []string, noRandomize bool) (*EndpointPool, error) {
	p := &EndpointPool{}
	seen := map[string]bool{}
	for _, raw := range urls {
		ep, err := parseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		if seen[ep.key()] {
			continue
		}
		seen[ep.key()] = true
		p.eps = append(p.eps, &poolEndpoint{Endpoint: ep})
	}
	if len(p.eps) == 0 {
		return nil, ErrNoServers
	}
	if !noRandomize {
		rand.Shuffle(len(p.eps), func(i, j int) { p.eps[i], p.eps[j] = p.eps[j], p.eps[i] })
	}
	return p, nil
}

// Len returns the number of candidate endpoints in the pool.
func (p *EndpointPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.eps)
}

// Current returns the endpoint the iterator is presently positioned on.
func (p *EndpointPool) Current() *poolEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.eps) == 0 {
		return nil
	}
	return p.eps[p.idx%len(p.eps)]
}

// Advance moves the iterator to the next candidate, wrapping around.
func (p *EndpointPool) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.eps) == 0 {
		return
	}
	p.idx = (p.idx + 1) % len(p.eps)
}

// All returns a snapshot of the pool's endpoints.
func (p *EndpointPool) All() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, len(p.eps))
	for i, e := range p.eps {
		out[i] = e.Endpoint
	}
	return out
}

// MergeDiscovered folds server-advertised connect_urls into the pool,
// retaining existing user-configured entries and marking new ones learned
// so a future rediscovery can supersede them. Returns true if anything new
// was added.
func (p *EndpointPool) MergeDiscovered(urls []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := false
	seen := map[string]bool{}
	for _, e := range p.eps {
		seen[e.key()] = true
	}
	for _, raw := range urls {
		ep, err := parseEndpoint(raw)
		if err != nil {
			continue
		}
		if seen[ep.key()] {
			continue
		}
		seen[ep.key()] = true
		ep.Learned = true
		p.eps = append(p.eps, &poolEndpoint{Endpoint: ep})
		added = true
	}
	return added
}
