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
	"encoding/binary"
	"syscall"

	"github.com/mat-scan/matscan/internal/fastsum"
)

// TCP flag bits.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

const (
	sizeIPv4Header = 20
	sizeTCPHeader  = 20

	// NOP, NOP, SACK_PERMITTED (kind=4, len=2) — used on non-SYN segments,
	// per the wire format in the distilled spec's external interfaces table.
)

var nonSYNOptions = []byte{0x01, 0x01, 0x04, 0x02}

// IPv4Header is the subset of an IPv4 header fields the receive path cares
// about.
type IPv4Header struct {
	IHL      uint8
	TTL      uint8
	Protocol uint8
	Src      [4]byte
	Dst      [4]byte
}

// ParseIPv4Header parses the leading IPv4 header from b, returning the
// header and the length (in bytes) it occupied so the TCP segment can be
// sliced out immediately after it.
func ParseIPv4Header(b []byte) (hdr IPv4Header, headerLen int, err error) {
	if len(b) < sizeIPv4Header {
		return IPv4Header{}, 0, ErrShortIPv4Header
	}

	version := b[0] >> 4
	if version != 4 {
		return IPv4Header{}, 0, ErrNotIPv4
	}

	ihl := int(b[0]&0x0f) * 4
	if ihl < sizeIPv4Header || len(b) < ihl {
		return IPv4Header{}, 0, ErrBadIPv4HeaderLength
	}

	hdr.IHL = b[0] & 0x0f
	hdr.TTL = b[8]
	hdr.Protocol = b[9]
	copy(hdr.Src[:], b[12:16])
	copy(hdr.Dst[:], b[16:20])

	return hdr, ihl, nil
}

// TCPSegment is a parsed TCP segment (header fields plus payload slice,
// which aliases the caller's buffer).
type TCPSegment struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            uint8
	Window           uint16
	Payload          []byte
}

// ParseTCPSegment parses a TCP segment from b (which starts at the TCP
// header, i.e. immediately after the IPv4 header).
func ParseTCPSegment(b []byte) (TCPSegment, error) {
	if len(b) < sizeTCPHeader {
		return TCPSegment{}, ErrShortTCPHeader
	}

	dataOffset := int(b[12]>>4) * 4
	if dataOffset < sizeTCPHeader || len(b) < dataOffset {
		dataOffset = sizeTCPHeader
	}

	seg := TCPSegment{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		Flags:   b[13],
		Window:  binary.BigEndian.Uint16(b[14:16]),
	}

	if len(b) > dataOffset {
		seg.Payload = b[dataOffset:]
	}

	return seg, nil
}

// Fingerprint is a selectable {TTL, window, MSS} tuple mimicking a common
// OS's TCP/IP stack, fixed for the lifetime of one scan run so all outgoing
// SYNs look consistent. The order of the SYN's TCP options is the same for
// every fingerprint (see synOptions).
type Fingerprint struct {
	Name   string
	TTL    uint8
	Window uint16
	MSS    uint16
}

// Fingerprints is the selectable fingerprint table: Windows XP, Windows 7,
// Linux 3.11+, Android, Solaris 8, and Nintendo 3DS.
var Fingerprints = []Fingerprint{
	{Name: "windows_xp", TTL: 128, Window: 65535, MSS: 1460},
	{Name: "windows_7", TTL: 128, Window: 8192, MSS: 1460},
	{Name: "linux_3_11", TTL: 64, Window: 5840, MSS: 1460},
	{Name: "android", TTL: 64, Window: 14600, MSS: 1440},
	{Name: "solaris_8", TTL: 255, Window: 8760, MSS: 1380},
	{Name: "nintendo_3ds", TTL: 64, Window: 16384, MSS: 1360},
}

// synOptions returns the MSS + SACK_PERMITTED + NOP options used on the
// initial SYN for fp, padded to a multiple of 4 bytes.
func synOptions(fp Fingerprint) []byte {
	opts := []byte{
		0x02, 0x04, byte(fp.MSS >> 8), byte(fp.MSS), // MSS
		0x04, 0x02, // SACK_PERMITTED
		0x01, 0x01, // NOP, NOP (pad to 8 bytes, already aligned)
	}

	return opts
}

// buildPacket assembles a complete IPv4+TCP frame in a newly allocated
// buffer, computing both the IPv4 header and the TCP checksum on every
// call; no template is reused between packets.
func buildPacket(
	fp Fingerprint,
	srcIP, dstIP [4]byte,
	srcPort, dstPort uint16,
	seq, ack uint32,
	flags uint8,
	syn bool,
	payload []byte,
) []byte {
	options := nonSYNOptions
	if syn {
		options = synOptions(fp)
	}

	dataOffsetBytes := sizeTCPHeader + len(options)
	tcpLen := dataOffsetBytes + len(payload)
	totalLen := sizeIPv4Header + tcpLen

	buf := make([]byte, totalLen)

	// IPv4 header.
	buf[0] = (4 << 4) | (sizeIPv4Header / 4)
	buf[1] = 0 // DSCP/ECN
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], 1) // identification
	buf[6] = 0x40                           // flags: DF, frag offset = 0
	buf[7] = 0
	buf[8] = fp.TTL
	buf[9] = syscall.IPPROTO_TCP
	copy(buf[12:16], srcIP[:])
	copy(buf[16:20], dstIP[:])

	ipChecksum := fastsum.Checksum(buf[0:sizeIPv4Header])
	binary.BigEndian.PutUint16(buf[10:12], ipChecksum)

	// TCP header + options + payload.
	tcp := buf[sizeIPv4Header:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = byte(dataOffsetBytes/4) << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], fp.Window)
	tcp[18] = 0
	tcp[19] = 0 // urgent pointer
	copy(tcp[sizeTCPHeader:dataOffsetBytes], options)

	if len(payload) > 0 {
		copy(tcp[dataOffsetBytes:], payload)
	}

	tcpChecksum := fastsum.TCPv4(srcIP, dstIP, tcp[:dataOffsetBytes], payload)
	binary.BigEndian.PutUint16(tcp[16:18], tcpChecksum)

	return buf
}
