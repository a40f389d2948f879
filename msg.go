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
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
)

// Header carries the K: V lines of an HPUB/HMSG header block. It is a plain
// MIMEHeader so callers get the usual canonicalized Get/Set/Add/Del.
type Header = textproto.MIMEHeader

const headerLine10 = "NATS/1.0\r\n"

// Msg is used both for inbound deliveries (Subject/Reply/Header/Data/Sub are
// populated by the Line Reader) and as the outbound queue's intrusive chain
// node: next links it into a Write Queue batch without a separate slice
// allocation, and raw/wsz cache a pre-encoded control line or the computed
// wire length of a PUB/HPUB so the Write Queue never has to re-measure it.
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Data    []byte
	Sub     *Subscription

	next *Msg
	raw  []byte
	wsz  int
}

// NewMsg allocates an outbound Msg for the given subject.
func NewMsg(subject string) *Msg {
	return &Msg{Subject: subject}
}

func newPubMsg(subject, reply string, hdr Header, data []byte) *Msg {
	m := &Msg{Subject: subject, Reply: reply, Header: hdr, Data: data}
	m.wsz = encodedSize(m)
	return m
}

func newControlMsg(line string) *Msg {
	m := &Msg{raw: []byte(line)}
	m.wsz = len(m.raw)
	return m
}

func (m *Msg) wireSize() int {
	if m.wsz == 0 {
		m.wsz = encodedSize(m)
	}
	return m.wsz
}

// encodedSize computes the exact number of bytes appendEncoded would write,
// without building the buffer, so the Write Queue can enforce its byte cap
// up front (spec: Outbound Message carries "a pre-computed protocol prefix
// length").
func encodedSize(m *Msg) int {
	if m.raw != nil {
		return len(m.raw)
	}
	hdr := encodeHeaderBlock(m.Header)
	n := 0
	if len(hdr) > 0 {
		n += len("HPUB ") + len(m.Subject) + 1
		if m.Reply != "" {
			n += len(m.Reply) + 1
		}
		n += len(strconv.Itoa(len(hdr))) + 1
		n += len(strconv.Itoa(len(hdr)+len(m.Data))) + 2
		n += len(hdr) + len(m.Data) + 2
		return n
	}
	n += len("PUB ") + len(m.Subject) + 1
	if m.Reply != "" {
		n += len(m.Reply) + 1
	}
	n += len(strconv.Itoa(len(m.Data))) + 2
	n += len(m.Data) + 2
	return n
}

// appendEncoded serializes m's wire representation onto buf, for both plain
// data messages and pre-encoded control lines (SUB/UNSUB/PING/PONG/CONNECT).
func appendEncoded(buf []byte, m *Msg) []byte {
	if m.raw != nil {
		return append(buf, m.raw...)
	}
	hdr := encodeHeaderBlock(m.Header)
	if len(hdr) > 0 {
		buf = append(buf, "HPUB "...)
		buf = append(buf, m.Subject...)
		buf = append(buf, ' ')
		if m.Reply != "" {
			buf = append(buf, m.Reply...)
			buf = append(buf, ' ')
		}
		buf = strconv.AppendInt(buf, int64(len(hdr)), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(len(hdr)+len(m.Data)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, hdr...)
		buf = append(buf, m.Data...)
		buf = append(buf, '\r', '\n')
		return buf
	}
	buf = append(buf, "PUB "...)
	buf = append(buf, m.Subject...)
	buf = append(buf, ' ')
	if m.Reply != "" {
		buf = append(buf, m.Reply...)
		buf = append(buf, ' ')
	}
	buf = strconv.AppendInt(buf, int64(len(m.Data)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, m.Data...)
	buf = append(buf, '\r', '\n')
	return buf
}

// encodeHeaderBlock renders a Header as the NATS/1.0 header block described
// in spec §6 (HPUB). Returns nil if there are no headers.
func encodeHeaderBlock(h Header) []byte {
	if len(h) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(headerLine10)+32)
	buf = append(buf, headerLine10...)
	for k, vs := range h {
		for _, v := range vs {
			buf = append(buf, k...)
			buf = append(buf, ':', ' ')
			buf = append(buf, v...)
			buf = append(buf, '\r', '\n')
		}
	}
	buf = append(buf, '\r', '\n')
	return buf
}

// parseHeaderBlock parses an HMSG header region (the header-size bytes: the
// NATS/1.0 line, the K: V lines and the blank line ending them) back into a
// Header.
func parseHeaderBlock(raw []byte) (Header, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	statusLine, err := tp.ReadLine()
	if err != nil {
		return nil, wrapError(KindProtocolError, "malformed header block", err)
	}
	if len(statusLine) < 7 || statusLine[:7] != "NATS/1." {
		return nil, wrapError(KindProtocolError, "missing NATS/1.0 header line", nil)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err.Error() != "EOF" {
		return nil, wrapError(KindProtocolError, "malformed header fields", err)
	}
	return Header(hdr), nil
}
