/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tcpengine implements the stateless-TCP receive side: SYN-cookie
// validation and the small per-connection state machine needed to read a
// single request/response exchange out of raw SYN-ACK/ACK/FIN/RST segments.
// The sender side (package session) and this package share only the cookie
// function and the underlying rawnet.Socket.
package tcpengine

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/rawnet"
	"github.com/mat-scan/matscan/pkg/targets"
)

// ConnState is retained for the lifetime of one in-progress exchange: from
// the first data byte received until a FIN closes it out or it is purged
// for taking too long.
type ConnState struct {
	Data      []byte
	RemoteSeq uint32
	LocalSeq  uint32
	Started   time.Time
	FinSent   bool
}

// socket is the subset of *rawnet.Socket the receive state machine needs.
// Defined as an interface so tests can exercise the state machine without
// opening a real raw socket (which requires root).
type socket interface {
	Recv(deadline time.Duration) (rawnet.IPv4Header, rawnet.TCPSegment, error)
	SendACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
	SendData(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, payload []byte) error
	SendFINACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
	SendRST(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
}

var _ socket = (*rawnet.Socket)(nil)

// Receiver owns the single-threaded receive loop for one scan run: it never
// shares its conns map with the sender, so it needs no locking there. The
// active protocol and its destination queue are the one exception: the
// orchestrator swaps both exactly once per cycle (a Normal/Rescan cycle
// pairs the ping protocol with the processing pipeline, a Fingerprint
// cycle pairs the fingerprint protocol with its own sink) while the
// receive loop keeps running, so both sit behind cycleMu — a write per
// cycle against a read on every segment handled.
type Receiver struct {
	sock socket
	seed uint64
	log  zerolog.Logger

	cycleMu  sync.RWMutex
	protocol Protocol
	queue    Queue

	conns map[targets.Addr]*ConnState
}

// NewReceiver builds a Receiver bound to sock, validating cookies against
// seed and handing completed responses to queue.
func NewReceiver(sock socket, seed uint64, protocol Protocol, queue Queue, log zerolog.Logger) *Receiver {
	return &Receiver{
		sock:     sock,
		seed:     seed,
		protocol: protocol,
		queue:    queue,
		log:      log,
		conns:    make(map[targets.Addr]*ConnState),
	}
}

// SetProtocol installs a new active protocol, for use between scan cycles.
// It's safe to call while Run is draining segments concurrently.
func (r *Receiver) SetProtocol(p Protocol) {
	r.cycleMu.Lock()
	r.protocol = p
	r.cycleMu.Unlock()
}

// SetQueue installs a new destination queue, for use between scan cycles
// alongside SetProtocol — a Fingerprint cycle routes parsed responses
// somewhere other than the Normal/Rescan processing pipeline.
func (r *Receiver) SetQueue(q Queue) {
	r.cycleMu.Lock()
	r.queue = q
	r.cycleMu.Unlock()
}

func (r *Receiver) currentProtocol() Protocol {
	r.cycleMu.RLock()
	p := r.protocol
	r.cycleMu.RUnlock()

	return p
}

func (r *Receiver) currentQueue() Queue {
	r.cycleMu.RLock()
	q := r.queue
	r.cycleMu.RUnlock()

	return q
}

// ConnCount reports the number of in-flight connections, for metrics.
func (r *Receiver) ConnCount() int {
	return len(r.conns)
}

// Run drains inbound segments until ctx is cancelled, purging stale
// connections every purgeInterval against pingTimeout.
func (r *Receiver) Run(ctx context.Context, pingTimeout, purgeInterval time.Duration) {
	lastPurge := time.Now()

	for {
		select {
		case <-ctx.Done():
			r.PurgeOld(pingTimeout)
			return
		default:
		}

		r.drain()

		if time.Since(lastPurge) > purgeInterval {
			r.PurgeOld(pingTimeout)
			lastPurge = time.Now()
		}
	}
}

// drain reads every segment currently available, then blocks briefly
// waiting for the next one — mirroring a tight non-blocking poll followed
// by a short sleep, without busy-spinning the CPU.
func (r *Receiver) drain() {
	for {
		ipHdr, seg, err := r.sock.Recv(50 * time.Millisecond)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}

			r.log.Debug().Err(err).Msg("error reading from raw socket")

			return
		}

		if ipHdr.Protocol != 0 && ipHdr.Protocol != 6 {
			continue
		}

		r.handleSegment(ipHdr, seg)
	}
}

// PurgeOld drops connections that have been open longer than pingTimeout.
func (r *Receiver) PurgeOld(pingTimeout time.Duration) {
	now := time.Now()

	for addr, conn := range r.conns {
		if now.Sub(conn.Started) > pingTimeout {
			r.log.Debug().Uint32("ip", addr.IP).Uint16("port", addr.Port).Msg("dropping connection, took too long")
			delete(r.conns, addr)
		}
	}
}

func (r *Receiver) handleSegment(ipHdr rawnet.IPv4Header, seg rawnet.TCPSegment) {
	addr := targets.Addr{IP: bytesToIP(ipHdr.Src), Port: seg.SrcPort}

	switch {
	case seg.Flags&rawnet.FlagRST != 0:
		r.handleRST(addr)
	case seg.Flags&rawnet.FlagFIN != 0:
		r.handleFIN(ipHdr, seg, addr)
	case seg.Flags&rawnet.FlagSYN != 0 && seg.Flags&rawnet.FlagACK != 0:
		r.handleSYNACK(ipHdr, seg, addr)
	case seg.Flags&rawnet.FlagACK != 0:
		r.handleACK(ipHdr, seg, addr)
	}
}

func (r *Receiver) handleRST(addr targets.Addr) {
	if _, tracked := r.conns[addr]; !tracked {
		return
	}

	if data, err := r.currentProtocol().ParseResponse(addr, Response{Kind: ResponseRST}); err == nil {
		r.currentQueue().Push(addr, data)
	}

	delete(r.conns, addr)
}

func (r *Receiver) handleFIN(ipHdr rawnet.IPv4Header, seg rawnet.TCPSegment, addr targets.Addr) {
	conn, tracked := r.conns[addr]
	if !tracked {
		_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, seg.Ack, seg.Seq+1)
		return
	}

	_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, conn.LocalSeq, seg.Seq+1)

	if !conn.FinSent {
		_ = r.sock.SendFINACK(ipHdr.Src, seg.DstPort, seg.SrcPort, conn.LocalSeq, seg.Seq+1)
		conn.FinSent = true
	}

	if len(conn.Data) == 0 {
		// No data ever arrived before the peer closed; parse whatever an
		// empty response means for the active protocol and leave the
		// connection for PurgeOld to reap, matching the original scanner's
		// FIN handling exactly.
		if data, err := r.currentProtocol().ParseResponse(addr, Response{Kind: ResponseData}); err == nil {
			r.currentQueue().Push(addr, data)
		}

		return
	}

	delete(r.conns, addr)
}

func (r *Receiver) handleSYNACK(ipHdr rawnet.IPv4Header, seg rawnet.TCPSegment, addr targets.Addr) {
	expectedAck := Cookie(addr.IP, addr.Port, r.seed) + 1
	if seg.Ack != expectedAck {
		r.log.Warn().Uint32("ip", addr.IP).Uint16("port", addr.Port).Msg("cookie mismatch on SYN-ACK")
		return
	}

	_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, seg.Ack, seg.Seq+1)

	payload := r.currentProtocol().Payload(addr)
	if len(payload) == 0 {
		_ = r.sock.SendRST(ipHdr.Src, seg.DstPort, seg.SrcPort, seg.Ack, seg.Seq+1)
		return
	}

	_ = r.sock.SendData(ipHdr.Src, seg.DstPort, seg.SrcPort, seg.Ack, seg.Seq+1, payload)
}

func (r *Receiver) handleACK(ipHdr rawnet.IPv4Header, seg rawnet.TCPSegment, addr targets.Addr) {
	if len(seg.Payload) == 0 {
		return
	}

	ackNumber := seg.Ack

	conn, tracked := r.conns[addr]
	protocol := r.currentProtocol()

	var (
		parsed []byte
		perr   error
	)

	switch {
	case tracked:
		if seg.Seq != conn.RemoteSeq {
			r.log.Warn().Uint32("ip", addr.IP).Uint16("port", addr.Port).
				Uint32("got_seq", seg.Seq).Uint32("want_seq", conn.RemoteSeq).
				Msg("wrong sequence number, likely a retransmission")
			_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, ackNumber, conn.RemoteSeq)

			return
		}

		conn.Data = append(conn.Data, seg.Payload...)
		conn.RemoteSeq = seg.Seq + uint32(len(seg.Payload))
		parsed, perr = protocol.ParseResponse(addr, Response{Kind: ResponseData, Data: conn.Data})

	default:
		packetSize := len(protocol.Payload(addr))
		expectedAck := Cookie(addr.IP, addr.Port, r.seed) + uint32(packetSize+1)

		if ackNumber != expectedAck {
			r.log.Warn().Uint32("ip", addr.IP).Uint16("port", addr.Port).Msg("cookie mismatch on data ACK")
			return
		}

		parsed, perr = protocol.ParseResponse(addr, Response{Kind: ResponseData, Data: seg.Payload})
	}

	switch {
	case perr == nil:
		if !tracked {
			conn = r.newConn(seg, ackNumber)
			r.conns[addr] = conn
		}

		r.currentQueue().Push(addr, parsed)
		_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, ackNumber, conn.RemoteSeq)
		_ = r.sock.SendFINACK(ipHdr.Src, seg.DstPort, seg.SrcPort, ackNumber, conn.RemoteSeq)

	case errors.Is(perr, ErrIncompleteResponse):
		if !tracked {
			conn = r.newConn(seg, ackNumber)
			r.conns[addr] = conn
		}

		_ = r.sock.SendACK(ipHdr.Src, seg.DstPort, seg.SrcPort, ackNumber, conn.RemoteSeq)

	default:
		// ErrInvalidResponse or anything else: give up silently.
	}
}

func (r *Receiver) newConn(seg rawnet.TCPSegment, ackNumber uint32) *ConnState {
	data := make([]byte, len(seg.Payload))
	copy(data, seg.Payload)

	return &ConnState{
		Data:      data,
		RemoteSeq: seg.Seq + uint32(len(seg.Payload)),
		LocalSeq:  ackNumber,
		Started:   time.Now(),
	}
}
