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
	"strings"
	"testing"
)

func TestAppendEncodedPlainPub(t *testing.T) {
	m := newPubMsg("foo.bar", "", nil, []byte("hello"))
	buf := appendEncoded(nil, m)
	if string(buf) != "PUB foo.bar 5\r\nhello\r\n" {
		t.Fatalf("unexpected encoding: %q", buf)
	}
}

func TestAppendEncodedPubWithReply(t *testing.T) {
	m := newPubMsg("foo.bar", "reply.1", nil, []byte("hi"))
	buf := appendEncoded(nil, m)
	if string(buf) != "PUB foo.bar reply.1 2\r\nhi\r\n" {
		t.Fatalf("unexpected encoding: %q", buf)
	}
}

func TestAppendEncodedHPubWithHeaders(t *testing.T) {
	hdr := Header{"X-Test": []string{"1"}}
	m := newPubMsg("foo", "", hdr, []byte("body"))
	buf := appendEncoded(nil, m)
	s := string(buf)
	if !strings.HasPrefix(s, "HPUB foo ") {
		t.Fatalf("expected HPUB prefix, got %q", s)
	}
	if !strings.Contains(s, "NATS/1.0\r\n") || !strings.Contains(s, "X-Test: 1\r\n") {
		t.Fatalf("expected header block present, got %q", s)
	}
	if !strings.HasSuffix(s, "body\r\n") {
		t.Fatalf("expected payload trailer, got %q", s)
	}
}

func TestEncodedSizeMatchesAppendEncodedLength(t *testing.T) {
	hdr := Header{"A": []string{"b"}}
	m := newPubMsg("subj", "reply", hdr, []byte("payload"))
	buf := appendEncoded(nil, m)
	if len(buf) != m.wireSize() {
		t.Fatalf("encodedSize mismatch: computed=%d actual=%d", m.wireSize(), len(buf))
	}
}

func TestControlMsgWireSizeIsRawLength(t *testing.T) {
	m := newControlMsg("PING\r\n")
	if m.wireSize() != 6 {
		t.Fatalf("expected 6, got %d", m.wireSize())
	}
}

func TestParseHeaderBlockRoundTrip(t *testing.T) {
	hdr := Header{"Foo": []string{"Bar"}}
	raw := encodeHeaderBlock(hdr)
	parsed, err := parseHeaderBlock(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Get("Foo") != "Bar" {
		t.Fatalf("unexpected header: %+v", parsed)
	}
}

func TestEncodeHeaderBlockEmptyReturnsNil(t *testing.T) {
	if encodeHeaderBlock(nil) != nil {
		t.Fatalf("expected nil for empty header map")
	}
}
