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

import "testing"

func TestParseEndpointSchemes(t *testing.T) {
	cases := []struct {
		raw    string
		scheme EndpointScheme
		port   int
	}{
		{"nats://host1:4222", SchemePlain, 4222},
		{"tls://host2:4333", SchemeTLS, 4333},
		{"opentls://host3:4444", SchemeOpenTLS, 4444},
		{"host4:4555", SchemePlain, 4555},
		{"host5", SchemePlain, DefaultPort},
	}
	for _, c := range cases {
		ep, err := parseEndpoint(c.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.raw, err)
		}
		if ep.Scheme != c.scheme || ep.Port != c.port {
			t.Fatalf("%s: unexpected endpoint %+v", c.raw, ep)
		}
	}
}

func TestEndpointPoolDeduplicatesAndPreservesOrder(t *testing.T) {
	p, err := newEndpointPool([]string{"nats://a:4222", "nats://b:4222", "nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 unique endpoints, got %d", p.Len())
	}
	first := p.Current()
	if first.Host != "a" {
		t.Fatalf("expected order preserved with no_randomize, got %q first", first.Host)
	}
	p.Advance()
	second := p.Current()
	if second.Host != "b" {
		t.Fatalf("expected b second, got %q", second.Host)
	}
	p.Advance()
	if p.Current().Host != "a" {
		t.Fatalf("expected iterator to wrap around to a")
	}
}

func TestEndpointPoolEmptyFails(t *testing.T) {
	if _, err := newEndpointPool(nil, true); err == nil {
		t.Fatalf("expected error for empty server list")
	}
}

func TestMergeDiscoveredAddsNewMarksLearned(t *testing.T) {
	p, err := newEndpointPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added := p.MergeDiscovered([]string{"nats://a:4222", "nats://c:4222"})
	if !added {
		t.Fatalf("expected MergeDiscovered to report a new endpoint added")
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 endpoints after merge, got %d", p.Len())
	}
	var foundLearned bool
	for _, ep := range p.All() {
		if ep.Host == "c" && ep.Learned {
			foundLearned = true
		}
	}
	if !foundLearned {
		t.Fatalf("expected newly discovered endpoint marked learned")
	}
}

func TestMergeDiscoveredNoNewReturnsFalse(t *testing.T) {
	p, err := newEndpointPool([]string{"nats://a:4222"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MergeDiscovered([]string{"nats://a:4222"}) {
		t.Fatalf("expected no-op merge to report false")
	}
}
