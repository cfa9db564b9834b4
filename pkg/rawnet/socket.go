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

// Package rawnet provides the raw-socket send/receive primitives the scan
// engine builds on: a send path for outgoing SYN/ACK/RST/FIN-ACK/data
// segments, each frame built from scratch per call, and a receive path that
// waits up to a caller-given deadline and hands back parsed IPv4+TCP
// frames. It does not know about cookies, connection state,
// or scan logic — that lives in package tcpengine.
package rawnet

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const maxFrameSize = 1500

// Socket wraps one raw AF_INET/SOCK_RAW/IPPROTO_TCP descriptor (with
// IP_HDRINCL set) for sending, plus an ip4:tcp PacketConn for receiving.
// A single Socket is meant to be driven by exactly one sender goroutine and
// one receiver goroutine, matching the two dedicated OS threads the engine
// runs; none of its methods take a lock.
type Socket struct {
	fingerprint Fingerprint
	sourceIP    [4]byte

	sendFD     int
	listenConn net.PacketConn

	closed bool
}

// Open creates the raw send socket and receive PacketConn, discovering the
// local source IPv4 address to stamp on outgoing packets.
func Open(fp Fingerprint) (*Socket, error) {
	sendFD, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("rawnet: cannot create raw send socket (requires root/CAP_NET_RAW): %w", err)
	}

	if err := syscall.SetsockoptInt(sendFD, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(sendFD)
		return nil, fmt.Errorf("rawnet: cannot set IP_HDRINCL: %w", err)
	}

	listenConn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		syscall.Close(sendFD)
		return nil, fmt.Errorf("rawnet: cannot create raw listen socket: %w", err)
	}

	srcIP, err := discoverSourceIP()
	if err != nil {
		syscall.Close(sendFD)
		listenConn.Close()

		return nil, err
	}

	return &Socket{
		fingerprint: fp,
		sourceIP:    srcIP,
		sendFD:      sendFD,
		listenConn:  listenConn,
	}, nil
}

// SourceIP returns the local IPv4 address used for outgoing packets.
func (s *Socket) SourceIP() [4]byte {
	return s.sourceIP
}

// Close releases both the send descriptor and the listen connection.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	listenErr := s.listenConn.Close()
	sendErr := syscall.Close(s.sendFD)

	if sendErr != nil {
		return sendErr
	}

	return listenErr
}

// SendSYN transmits the initial SYN for one scan attempt. seq is the
// cookie-derived initial sequence number.
func (s *Socket) SendSYN(dstIP [4]byte, srcPort, dstPort uint16, seq uint32) error {
	pkt := buildPacket(s.fingerprint, s.sourceIP, dstIP, srcPort, dstPort, seq, 0, FlagSYN, true, nil)
	return s.send(dstIP, dstPort, pkt)
}

// SendACK acknowledges the peer's SYN-ACK to complete the handshake.
func (s *Socket) SendACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	pkt := buildPacket(s.fingerprint, s.sourceIP, dstIP, srcPort, dstPort, seq, ack, FlagACK, false, nil)
	return s.send(dstIP, dstPort, pkt)
}

// SendData sends payload (e.g. a handshake + status-request packet) with the
// ACK flag set, piggybacking the acknowledgement.
func (s *Socket) SendData(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32, payload []byte) error {
	pkt := buildPacket(s.fingerprint, s.sourceIP, dstIP, srcPort, dstPort, seq, ack, FlagPSH|FlagACK, false, payload)
	return s.send(dstIP, dstPort, pkt)
}

// SendFINACK politely closes the connection after the response has been read.
func (s *Socket) SendFINACK(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	pkt := buildPacket(s.fingerprint, s.sourceIP, dstIP, srcPort, dstPort, seq, ack, FlagFIN|FlagACK, false, nil)
	return s.send(dstIP, dstPort, pkt)
}

// SendRST aborts a connection immediately (the receiver sends it when the
// active protocol has no payload for the target).
func (s *Socket) SendRST(dstIP [4]byte, srcPort, dstPort uint16, seq, ack uint32) error {
	pkt := buildPacket(s.fingerprint, s.sourceIP, dstIP, srcPort, dstPort, seq, ack, FlagRST|FlagACK, false, nil)
	return s.send(dstIP, dstPort, pkt)
}

func (s *Socket) send(dstIP [4]byte, dstPort uint16, pkt []byte) error {
	if s.closed {
		return ErrSocketClosed
	}

	addr := unix.SockaddrInet4{Port: int(dstPort), Addr: dstIP}

	return unix.Sendto(s.sendFD, pkt, 0, &addr)
}

// Recv blocks for up to deadline waiting for one inbound frame, returning
// the parsed IPv4 header and TCP segment. Timeouts are reported via
// net.Error.Timeout() on the returned error so callers can loop without
// treating them as fatal.
func (s *Socket) Recv(deadline time.Duration) (IPv4Header, TCPSegment, error) {
	buf := make([]byte, maxFrameSize)

	if err := s.listenConn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return IPv4Header{}, TCPSegment{}, err
	}

	n, _, err := s.listenConn.ReadFrom(buf)
	if err != nil {
		return IPv4Header{}, TCPSegment{}, err
	}

	ipHdr, hdrLen, err := ParseIPv4Header(buf[:n])
	if err != nil {
		return IPv4Header{}, TCPSegment{}, err
	}

	seg, err := ParseTCPSegment(buf[hdrLen:n])
	if err != nil {
		return IPv4Header{}, TCPSegment{}, err
	}

	return ipHdr, seg, nil
}

// discoverSourceIP finds a local IPv4 address to use as the scanner's
// source: dial out to find the route-preferred address, falling back to
// enumerating interfaces in offline environments.
func discoverSourceIP() ([4]byte, error) {
	var out [4]byte

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()

		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		if !ok {
			return out, ErrNonIPv4LocalIP
		}

		v4 := addr.IP.To4()
		if v4 == nil {
			return out, ErrNonIPv4LocalIP
		}

		copy(out[:], v4)

		return out, nil
	}

	addrs, ifErr := net.InterfaceAddrs()
	if ifErr != nil {
		return out, ifErr
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}

		v4 := ipnet.IP.To4()
		if v4 == nil {
			continue
		}

		copy(out[:], v4)

		return out, nil
	}

	return out, ErrNoSuitableInterface
}
