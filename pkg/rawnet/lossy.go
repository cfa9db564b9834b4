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

package rawnet

import (
	"math/rand"
	"time"
)

// Conn is the full send+receive surface a Socket exposes. session.Sender
// and tcpengine's own receive-side interface each only need a subset of
// it; Conn exists so callers that wire up either *Socket or *LossySocket
// behind a single variable have something to name.
type Conn interface {
	SendSYN(dstIP [4]byte, srcPort, dstPort uint16, seq uint32) error
	SendACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
	SendData(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, payload []byte) error
	SendFINACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
	SendRST(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error
	Recv(deadline time.Duration) (IPv4Header, TCPSegment, error)
}

var (
	_ Conn = (*Socket)(nil)
	_ Conn = (*LossySocket)(nil)
)

// lossTimeout satisfies net.Error so a simulated drop looks exactly like
// an ordinary read timeout to the one caller (tcpengine.Receiver.drain)
// that already treats timeouts as "nothing to do this pass".
type lossTimeout struct{}

func (lossTimeout) Error() string   { return "rawnet: simulated packet loss" }
func (lossTimeout) Timeout() bool   { return true }
func (lossTimeout) Temporary() bool { return true }

// LossySocket wraps a Socket and probabilistically drops outgoing sends
// and incoming receives, reproducing scan behavior under packet loss
// without needing an actually lossy network to test against. It exists
// for debug.simulate_rx_loss / debug.simulate_tx_loss and is never wired
// in when both are zero.
//
// The sender and receiver each run on their own goroutine and never touch
// each other's side of a Socket (see Socket's doc comment), so tx and rx
// drops use independent *rand.Rand instances rather than share one.
type LossySocket struct {
	*Socket

	txLoss float64
	rxLoss float64

	txRand *rand.Rand
	rxRand *rand.Rand
}

// NewLossy wraps sock so that, on average, a txLoss fraction of outgoing
// sends and an rxLoss fraction of incoming receives are silently dropped.
// Both are probabilities in [0, 1]; either may be 0 to leave that side
// unaffected.
func NewLossy(sock *Socket, rxLoss, txLoss float64) *LossySocket {
	return &LossySocket{
		Socket: sock,
		txLoss: txLoss,
		rxLoss: rxLoss,
		txRand: rand.New(rand.NewSource(time.Now().UnixNano())),
		rxRand: rand.New(rand.NewSource(time.Now().UnixNano() + 1)),
	}
}

func (s *LossySocket) SendSYN(dstIP [4]byte, srcPort, dstPort uint16, seq uint32) error {
	if s.dropTx() {
		return nil
	}

	return s.Socket.SendSYN(dstIP, srcPort, dstPort, seq)
}

func (s *LossySocket) SendACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	if s.dropTx() {
		return nil
	}

	return s.Socket.SendACK(dstIP, srcPort, dstPort, seq, ack)
}

func (s *LossySocket) SendData(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, payload []byte) error {
	if s.dropTx() {
		return nil
	}

	return s.Socket.SendData(dstIP, srcPort, dstPort, seq, ack, payload)
}

func (s *LossySocket) SendFINACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	if s.dropTx() {
		return nil
	}

	return s.Socket.SendFINACK(dstIP, srcPort, dstPort, seq, ack)
}

func (s *LossySocket) SendRST(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	if s.dropTx() {
		return nil
	}

	return s.Socket.SendRST(dstIP, srcPort, dstPort, seq, ack)
}

// Recv drops a successfully-received frame rxLoss of the time, reporting
// it to the caller as an ordinary timeout rather than forwarding it.
func (s *LossySocket) Recv(deadline time.Duration) (IPv4Header, TCPSegment, error) {
	ipHdr, seg, err := s.Socket.Recv(deadline)
	if err != nil {
		return ipHdr, seg, err
	}

	if s.dropRx() {
		return IPv4Header{}, TCPSegment{}, lossTimeout{}
	}

	return ipHdr, seg, nil
}

func (s *LossySocket) dropTx() bool {
	return s.txLoss > 0 && s.txRand.Float64() < s.txLoss
}

func (s *LossySocket) dropRx() bool {
	return s.rxLoss > 0 && s.rxRand.Float64() < s.rxLoss
}
