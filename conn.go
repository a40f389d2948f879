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
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nkeys"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// serverInfo is the payload of an inbound INFO line. Only the fields the
// core actually consumes are modeled (spec §1: "JSON parsing of server
// INFO specified only as the fields consumed" is an external collaborator
// concern, not a reason to hand-roll a parser — encoding/json is stdlib
// and is exactly what the teacher's own serverInfo/connectInfo pair uses).
type serverInfo struct {
	ID           string   `json:"server_id"`
	Version      string   `json:"version"`
	Proto        int      `json:"proto"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	AuthRequired bool     `json:"auth_required,omitempty"`
	TLSRequired  bool     `json:"tls_required,omitempty"`
	TLSVerify    bool     `json:"tls_verify,omitempty"`
	MaxPayload   int64    `json:"max_payload"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
	Nonce        string   `json:"nonce,omitempty"`
	LameDuckMode bool     `json:"ldm,omitempty"`
	Headers      bool     `json:"headers,omitempty"`
}

// connectInfo is the payload of the outbound CONNECT line.
type connectInfo struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Echo        bool   `json:"echo"`
	Headers     bool   `json:"headers"`

	User     string `json:"user,omitempty"`
	Pass     string `json:"pass,omitempty"`
	AuthTok  string `json:"auth_token,omitempty"`
	NKey     string `json:"nkey,omitempty"`
	Sig      string `json:"sig,omitempty"`
}

// Conn is the top-level connection runtime: it owns the Transport, Line
// Reader, Write/Reconnect Queues, Subscription Registry, Writer, and
// Reconnector, and exposes the public API surface (spec §4.G).
type Conn struct {
	mu     sync.RWMutex
	opts   Options
	status Status

	pool    *EndpointPool
	tr      Transport
	outq    *outQueue
	reconnq *outQueue
	rbuf    *reconnectBuffer
	subs    *subRegistry
	disp    *Dispatcher
	wr      *writer
	recon   *reconnector

	log     *zerolog.Logger
	metrics *Metrics

	info serverInfo

	pongMu      sync.Mutex
	pongWaiters []chan struct{}
	pingOut     int
	pingTimer   *time.Timer

	reqMu       sync.Mutex
	reqWaiters  map[string]chan *Msg
	reqSub      *Subscription
	inboxPrefix string

	statsMu sync.Mutex
	stats   Stats

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closedCh  chan struct{}

	startStopMu sync.Mutex
	readerWG    sync.WaitGroup
}

func (nc *Conn) init() {
	nc.subs = newSubRegistry()
	nc.log = loggerOrNop(nc.opts.Logger)
	nc.metrics = nc.opts.Metrics
	nc.reqWaiters = make(map[string]chan *Msg)
	nc.closedCh = make(chan struct{})
	nc.inboxPrefix = InboxPrefix + nuidNext() + "."
	nc.ctx, nc.cancel = context.WithCancel(context.Background())
}

// connect dials the first reachable endpoint in the pool, per spec §4.G.
func (nc *Conn) connect() error {
	pool, err := newEndpointPool(nc.opts.serversOrDefault(), nc.opts.NoRandomize)
	if err != nil {
		return err
	}
	nc.pool = pool
	nc.setStatus(CONNECTING)

	for i := 0; i < pool.Len(); i++ {
		ep := nc.pool.Current()
		info, tr, lr, err := nc.dialAndHandshake(nc.ctx, ep.Endpoint)
		if err == nil {
			nc.finishConnect(tr, lr, info)
			return nil
		}
		nc.logWarn("connect attempt failed", err)
		nc.pool.Advance()
	}
	return ErrNoServers
}

// dialAndHandshake opens the transport, reads and parses the initial INFO
// line, performs the TLS upgrade if required, and sends CONNECT. The
// *lineReader constructed here is handed back to the caller (rather than
// rebuilt by startReader) so any bytes the server pipelined immediately
// after PONG are never dropped from the bufio.Reader's internal buffer.
func (nc *Conn) dialAndHandshake(ctx context.Context, ep Endpoint) (serverInfo, Transport, *lineReader, error) {
	tr := newTCPTransport()
	timeout := nc.opts.connectionTimeout()

	select {
	case err := <-tr.Connect(ctx, ep, timeout):
		if err != nil {
			return serverInfo{}, nil, nil, err
		}
	case <-ctx.Done():
		return serverInfo{}, nil, nil, ErrConnectionClosed
	}

	lr := newLineReader(tr, nc.opts.bufferSize())
	op, err := lr.readOp()
	if err != nil || op.op != opInfo {
		return serverInfo{}, nil, nil, wrapError(KindProtocolError, "expected INFO", err)
	}
	var info serverInfo
	if err := json.Unmarshal([]byte(op.arg), &info); err != nil {
		return serverInfo{}, nil, nil, wrapError(KindProtocolError, "malformed INFO payload", err)
	}

	needsTLS := ep.isTLS() || info.TLSRequired || nc.opts.Secure
	if needsTLS {
		cfg := nc.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if err := tr.UpgradeToSecure(cfg); err != nil {
			return serverInfo{}, nil, nil, err
		}
		// The pre-upgrade bufio.Reader read raw (now-stale) TLS record
		// bytes; only a fresh reader over the now-decrypting transport is
		// valid, and nothing of the plaintext protocol was buffered yet.
		lr = newLineReader(tr, nc.opts.bufferSize())
	} else if nc.opts.Secure {
		return serverInfo{}, nil, nil, ErrTLSRequired
	}

	ci, err := nc.buildConnectInfo(info)
	if err != nil {
		return serverInfo{}, nil, nil, err
	}
	payload, err := json.Marshal(ci)
	if err != nil {
		return serverInfo{}, nil, nil, wrapError(KindProtocolError, "encode CONNECT", err)
	}
	if _, err := tr.Write([]byte("CONNECT " + string(payload) + "\r\n" + pingLine)); err != nil {
		return serverInfo{}, nil, nil, err
	}

	for {
		op, err := lr.readOp()
		if err != nil {
			return serverInfo{}, nil, nil, err
		}
		switch op.op {
		case opPong:
			return info, tr, lr, nil
		case opErr:
			if isAuthFailure(op.arg) {
				return serverInfo{}, nil, nil, wrapError(KindAuthFailed, op.arg, nil)
			}
			return serverInfo{}, nil, nil, wrapError(KindProtocolError, op.arg, nil)
		case opOK:
			continue
		default:
			continue
		}
	}
}

func (nc *Conn) buildConnectInfo(info serverInfo) (*connectInfo, error) {
	ci := &connectInfo{
		Verbose:     nc.opts.Verbose,
		Pedantic:    nc.opts.Pedantic,
		TLSRequired: nc.opts.Secure,
		Name:        nc.opts.Name,
		Lang:        "go",
		Version:     Version,
		Protocol:    1,
		Echo:        !nc.opts.NoEcho,
		Headers:     true,
	}
	switch {
	case nc.opts.NKeySeed != "":
		kp, err := nkeys.FromSeed([]byte(nc.opts.NKeySeed))
		if err != nil {
			return nil, wrapError(KindAuthFailed, "invalid nkey seed", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, wrapError(KindAuthFailed, "derive nkey public key", err)
		}
		sig, err := kp.Sign([]byte(info.Nonce))
		if err != nil {
			return nil, wrapError(KindAuthFailed, "sign server nonce", err)
		}
		ci.NKey = pub
		ci.Sig = base64.RawURLEncoding.EncodeToString(sig)
	case nc.opts.UserInfo != nil:
		ci.User = nc.opts.UserInfo.User
		ci.Pass = nc.opts.UserInfo.Password
	case nc.opts.Token != "":
		ci.AuthTok = nc.opts.Token
	}
	return ci, nil
}

func (nc *Conn) finishConnect(tr Transport, lr *lineReader, info serverInfo) {
	nc.mu.Lock()
	nc.tr = tr
	nc.info = info
	nc.outq = newOutQueue(nc.opts.maxMessages(), 0, nc.opts.overflowPolicy())
	nc.reconnq = newOutQueue(0, 0, policyBlock)
	nc.rbuf = newReconnectBuffer(nc.opts.ReconnectBufferSize)
	nc.disp = newDispatcher(nc, nc.opts.maxPendingMsgs(), nc.opts.maxPendingBytes())
	nc.recon = newReconnector(nc)
	nc.wr = newWriter(tr, nc.outq, nc.reconnq, nc.opts.bufferSize(), func(err error) { nc.handleCommIssue(err) })
	nc.mu.Unlock()

	nc.wr.start()
	nc.startReader(lr)
	nc.setupInboxSubscription()
	nc.startPingTimer()

	nc.setStatus(CONNECTED)
	if len(info.ConnectURLs) > 0 && nc.pool.MergeDiscovered(info.ConnectURLs) {
		nc.fireEvent(EventDiscoveredServers)
	}
}

// finishReconnect replays subscription state ahead of the reconnect buffer
// and resumes normal traffic, in the order required by spec §4.F/§5: every
// SUB/UNSUB replay line is pushed to reconnq before the reconnect buffer is
// drained onto outq, so ordering is a property of program order alone.
func (nc *Conn) finishReconnect(tr Transport, lr *lineReader, info serverInfo) {
	nc.mu.Lock()
	nc.tr = tr
	nc.info = info
	nc.wr = newWriter(tr, nc.outq, nc.reconnq, nc.opts.bufferSize(), func(err error) { nc.handleCommIssue(err) })
	nc.mu.Unlock()

	for _, s := range nc.subs.all() {
		s.mu.Lock()
		line := encodeSub(s.sid, s.Subject, s.Queue)
		max := s.max
		s.mu.Unlock()
		nc.reconnq.push(newControlMsg(line), true)
		if max > 0 {
			nc.reconnq.push(newControlMsg(encodeUnsub(s.sid, int(max))), true)
		}
	}

	nc.outq.resume()
	nc.wr.start()
	nc.startReader(lr)
	nc.startPingTimer()

	if head := nc.rbuf.drain(); head != nil {
		for m := head; m != nil; {
			nxt := m.next
			nc.outq.push(m, false)
			m = nxt
		}
	}

	nc.statsMu.Lock()
	nc.stats.Reconnects++
	nc.statsMu.Unlock()

	nc.setStatus(CONNECTED)
	nc.fireEvent(EventReconnected)
	nc.fireEvent(EventResubscribed)
	if len(info.ConnectURLs) > 0 && nc.pool.MergeDiscovered(info.ConnectURLs) {
		nc.fireEvent(EventDiscoveredServers)
	}
}

func (nc *Conn) setupInboxSubscription() {
	sub := &Subscription{Subject: nc.inboxPrefix + "*", mode: ModePush, conn: nc, disp: nc.disp, handler: nc.handleInboxMsg}
	sid := nc.subs.add(sub)
	nc.reqMu.Lock()
	nc.reqSub = sub
	nc.reqMu.Unlock()
	nc.outq.push(newControlMsg(encodeSub(sid, sub.Subject, "")), true)
}

func (nc *Conn) startReader(lr *lineReader) {
	nc.readerWG.Add(1)
	go nc.readLoop(lr)
}

func (nc *Conn) readLoop(lr *lineReader) {
	defer nc.readerWG.Done()
	for {
		op, err := lr.readOp()
		if err != nil {
			nc.handleCommIssue(err)
			return
		}
		if err := nc.processOp(lr, op); err != nil {
			nc.handleCommIssue(err)
			return
		}
	}
}

func (nc *Conn) processOp(lr *lineReader, op *parsedOp) error {
	switch op.op {
	case opMsg, opHMsg:
		return nc.processMsg(lr, op)
	case opPing:
		nc.outq.push(newControlMsg(pongLine), true)
		return nil
	case opPong:
		nc.firePongWaiter()
		return nil
	case opOK:
		return nil
	case opErr:
		nc.processServerErr(op.arg)
		return nil
	case opInfo:
		nc.processInfoUpdate(op.arg)
		return nil
	}
	return nil
}

func (nc *Conn) processMsg(lr *lineReader, op *parsedOp) error {
	total := op.size
	var hdr Header
	var body []byte
	if op.op == opHMsg {
		raw, err := lr.readBody(total)
		if err != nil {
			return err
		}
		if op.hdrSize > len(raw) {
			return wrapError(KindProtocolError, "hdr-size exceeds total-size", nil)
		}
		h, err := parseHeaderBlock(raw[:op.hdrSize])
		if err != nil {
			return err
		}
		hdr = h
		body = raw[op.hdrSize:]
	} else {
		raw, err := lr.readBody(total)
		if err != nil {
			return err
		}
		body = raw
	}

	m := &Msg{Subject: op.subject, Reply: op.reply, Header: hdr, Data: body}
	nc.statsMu.Lock()
	nc.stats.InMsgs++
	nc.stats.InBytes += uint64(len(body))
	nc.statsMu.Unlock()
	nc.metrics.observeIn(op.subject, len(body))
	nc.subs.deliver(op.sid, m)
	return nil
}

func (nc *Conn) handleInboxMsg(m *Msg) {
	token := m.Subject[len(nc.inboxPrefix):]
	nc.reqMu.Lock()
	ch, ok := nc.reqWaiters[token]
	if ok {
		delete(nc.reqWaiters, token)
	}
	nc.reqMu.Unlock()
	if ok {
		ch <- m
	}
}

func (nc *Conn) processServerErr(reason string) {
	if isAuthFailure(reason) {
		nc.finishClose(wrapError(KindAuthFailed, reason, nil))
		return
	}
	nc.fireErrEvent(nil, wrapError(KindProtocolError, reason, nil))
}

func (nc *Conn) processInfoUpdate(raw string) {
	var info serverInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return
	}
	nc.mu.Lock()
	nc.info = info
	nc.mu.Unlock()
	if len(info.ConnectURLs) > 0 && nc.pool.MergeDiscovered(info.ConnectURLs) {
		nc.fireEvent(EventDiscoveredServers)
	}
	if info.LameDuckMode {
		nc.fireEvent(EventLameDuck)
	}
}

// handleCommIssue is the single path every I/O failure funnels through:
// Reader and Writer both exit on transport error and call this, so the
// status check and the RECONNECTING transition happen under one write lock
// here rather than in the reconnector itself, otherwise two callers could
// both observe CONNECTED and race to start a second Reconnector.
func (nc *Conn) handleCommIssue(err error) {
	nc.mu.Lock()
	status := nc.status
	allow := nc.opts.AllowReconnect
	if status == CLOSED || status == RECONNECTING {
		nc.mu.Unlock()
		return
	}
	if !allow {
		nc.mu.Unlock()
		nc.finishClose(err)
		return
	}
	nc.status = RECONNECTING
	nc.mu.Unlock()
	go nc.recon.doReconnect(nc.ctx)
}

func (nc *Conn) setStatus(s Status) {
	nc.mu.Lock()
	nc.status = s
	nc.mu.Unlock()
}

func (nc *Conn) Status() Status {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.status
}

func (nc *Conn) fireEvent(ev Event) {
	var cb StatusHandler
	switch ev {
	case EventDisconnected:
		cb = nc.opts.DisconnectedCB
	case EventReconnected:
		cb = nc.opts.ReconnectedCB
	case EventResubscribed:
		cb = nc.opts.ResubscribedCB
	case EventDiscoveredServers:
		cb = nc.opts.DiscoveredServersCB
	case EventLameDuck:
		cb = nc.opts.LameDuckModeCB
	case EventClosed:
		cb = nc.opts.ClosedCB
	}
	if cb != nil {
		cb(nc, ev)
	}
}

func (nc *Conn) fireErrEvent(sub *Subscription, err error) {
	if nc.opts.AsyncErrorCB != nil {
		nc.opts.AsyncErrorCB(nc, sub, err)
	}
}

func (nc *Conn) notifySlowConsumer(sub *Subscription) {
	nc.metrics.observeSlowConsumer(sub.Subject)
	nc.fireErrEvent(sub, ErrSlowConsumer)
}

// Stats returns a snapshot of the connection's message/byte counters.
func (nc *Conn) Stats() Stats {
	nc.statsMu.Lock()
	defer nc.statsMu.Unlock()
	return nc.stats
}

func (nc *Conn) firePongWaiter() {
	nc.pongMu.Lock()
	defer nc.pongMu.Unlock()
	nc.pingOut = 0
	if len(nc.pongWaiters) == 0 {
		return
	}
	ch := nc.pongWaiters[0]
	nc.pongWaiters = nc.pongWaiters[1:]
	close(ch)
}

// startPingTimer arms the keepalive cadence from spec §6 (ping_interval,
// max_pings_out): pingOut is cleared and a single-shot timer is armed for
// PingInterval, self-rescheduling on every firing via firePingTimer. A zero
// PingInterval disables the cadence entirely.
func (nc *Conn) startPingTimer() {
	nc.pongMu.Lock()
	defer nc.pongMu.Unlock()
	nc.pingOut = 0
	if nc.pingTimer != nil {
		nc.pingTimer.Stop()
		nc.pingTimer = nil
	}
	if nc.opts.PingInterval <= 0 {
		return
	}
	nc.pingTimer = time.AfterFunc(nc.opts.PingInterval, nc.firePingTimer)
}

// stopPingTimer disarms the cadence across a disconnect/reconnect or Close;
// it is always safe to call even if the timer was never started.
func (nc *Conn) stopPingTimer() {
	nc.pongMu.Lock()
	defer nc.pongMu.Unlock()
	if nc.pingTimer != nil {
		nc.pingTimer.Stop()
		nc.pingTimer = nil
	}
}

// firePingTimer sends one keepalive PING and reschedules itself, mirroring
// the server-side ptmr/pout pair this client's wire protocol talks to: pout
// increments on every firing and is cleared by the next inbound PONG
// (firePongWaiter), so MaxPingsOut consecutive unanswered pings - not merely
// one slow PONG - trips the stale-connection path.
func (nc *Conn) firePingTimer() {
	nc.pongMu.Lock()
	if nc.pingTimer == nil {
		nc.pongMu.Unlock()
		return
	}
	nc.pingOut++
	out := nc.pingOut
	nc.pongMu.Unlock()

	if out > nc.opts.MaxPingsOut {
		nc.handleCommIssue(wrapError(KindStaleConnection, "too many outstanding pings", nil))
		return
	}

	nc.mu.RLock()
	outq := nc.outq
	nc.mu.RUnlock()
	if outq != nil {
		// The keepalive PING takes a slot in the PONG waiter FIFO so its
		// PONG is not taken as the reply to a later Flush PING.
		nc.pongMu.Lock()
		nc.pongWaiters = append(nc.pongWaiters, make(chan struct{}))
		nc.pongMu.Unlock()
		outq.push(newControlMsg(pingLine), true)
	}

	nc.pongMu.Lock()
	if nc.pingTimer != nil {
		nc.pingTimer = time.AfterFunc(nc.opts.PingInterval, nc.firePingTimer)
	}
	nc.pongMu.Unlock()
}

// Flush enqueues a PING and awaits the matching PONG, guaranteeing every
// publish enqueued beforehand has been transmitted (spec §4.G "Flush
// protocol").
func (nc *Conn) Flush() error {
	return nc.FlushTimeout(DefaultFlushTimeout)
}

func (nc *Conn) FlushTimeout(timeout time.Duration) error {
	nc.mu.RLock()
	if nc.status == CLOSED {
		nc.mu.RUnlock()
		return ErrConnectionClosed
	}
	nc.mu.RUnlock()

	ch := make(chan struct{})
	nc.pongMu.Lock()
	nc.pongWaiters = append(nc.pongWaiters, ch)
	nc.pongMu.Unlock()

	nc.outq.push(newControlMsg(pingLine), true)

	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// Close cancels all tasks, fails pending requests, and releases the
// transport (spec §4.G).
func (nc *Conn) Close() {
	nc.finishClose(ErrConnectionClosed)
}

func (nc *Conn) finishClose(reason error) {
	nc.closeOnce.Do(func() {
		nc.cancel()
		nc.setStatus(CLOSED)
		nc.stopPingTimer()

		nc.mu.RLock()
		tr := nc.tr
		outq, reconnq := nc.outq, nc.reconnq
		wr, disp := nc.wr, nc.disp
		nc.mu.RUnlock()

		if outq != nil {
			outq.close()
		}
		if reconnq != nil {
			reconnq.close()
		}

		// wr.stop and disp.close each join a goroutine that only winds
		// down once its queue observes the close above; running them
		// concurrently avoids paying both shutdown latencies back to back.
		var g errgroup.Group
		if wr != nil {
			g.Go(func() error { wr.stop(); return nil })
		}
		if disp != nil {
			g.Go(func() error { disp.close(); return nil })
		}
		g.Wait()

		if tr != nil {
			tr.Close()
		}
		nc.readerWG.Wait()
		nc.failAllRequests(reason)
		nc.fireEvent(EventClosed)
		close(nc.closedCh)
	})
}

func (nc *Conn) failAllRequests(reason error) {
	nc.reqMu.Lock()
	waiters := nc.reqWaiters
	nc.reqWaiters = make(map[string]chan *Msg)
	nc.reqMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Drain unsubscribes everything, flushes, then closes (spec §4.G).
func (nc *Conn) Drain() error {
	for _, s := range nc.subs.all() {
		_ = nc.unsubscribe(s, 0)
	}
	err := nc.FlushTimeout(DefaultFlushTimeout)
	nc.Close()
	return err
}

func encodeSub(sid uint64, subject, queue string) string {
	if queue != "" {
		return "SUB " + subject + " " + queue + " " + strconv.FormatUint(sid, 10) + "\r\n"
	}
	return "SUB " + subject + " " + strconv.FormatUint(sid, 10) + "\r\n"
}

func encodeUnsub(sid uint64, max int) string {
	if max > 0 {
		return "UNSUB " + strconv.FormatUint(sid, 10) + " " + strconv.Itoa(max) + "\r\n"
	}
	return "UNSUB " + strconv.FormatUint(sid, 10) + "\r\n"
}
