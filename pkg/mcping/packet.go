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

package mcping

import (
	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

const (
	packetIDHandshake = 0x00
	packetIDStatus    = 0x00

	// nextStateStatus requests the status response; handshakes that ask
	// for login (next_state = 2) belong to active fingerprinting, not
	// this protocol.
	nextStateStatus = 1
)

// HandshakeConfig is the client identity this scanner presents during the
// handshake. It has nothing to do with the address actually being probed:
// servers behind some proxies branch behavior on the claimed hostname, so
// operators can tune it to blend in.
type HandshakeConfig struct {
	ProtocolVersion int32
	Hostname        string
	Port            uint16
}

// Ping implements tcpengine.Protocol for the standard Server List Ping
// handshake: send a handshake + status request, parse the length-prefixed
// JSON status response.
type Ping struct {
	Handshake HandshakeConfig
}

var _ tcpengine.Protocol = Ping{}

// Payload builds the handshake and status-request packets, each framed
// with its own varint length prefix, ready to send as a single TCP
// segment.
func (p Ping) Payload(_ targets.Addr) []byte {
	var body []byte
	body = putVarint(body, packetIDHandshake)
	body = putVarint(body, p.Handshake.ProtocolVersion)
	body = putVarstring(body, p.Handshake.Hostname)
	body = append(body, byte(p.Handshake.Port>>8), byte(p.Handshake.Port))
	body = putVarint(body, nextStateStatus)

	out := framePacket(body)

	statusBody := putVarint(nil, packetIDStatus)
	out = append(out, framePacket(statusBody)...)

	return out
}

// ParseResponse extracts the status JSON from an accumulated response
// buffer. It returns tcpengine.ErrIncompleteResponse if the framed packet
// hasn't fully arrived yet, and tcpengine.ErrInvalidResponse if the bytes
// on hand can never form a valid response (an RST with no data, or a
// malformed frame).
func (Ping) ParseResponse(_ targets.Addr, resp tcpengine.Response) ([]byte, error) {
	if resp.Kind == tcpengine.ResponseRST {
		return nil, tcpengine.ErrInvalidResponse
	}

	buf := resp.Data

	packetLen, n, err := readVarint(buf)
	if err != nil {
		if err == errVarintIncomplete {
			return nil, tcpengine.ErrIncompleteResponse
		}

		return nil, tcpengine.ErrInvalidResponse
	}

	if packetLen < 0 {
		return nil, tcpengine.ErrInvalidResponse
	}

	buf = buf[n:]
	if len(buf) < int(packetLen) {
		return nil, tcpengine.ErrIncompleteResponse
	}

	buf = buf[:packetLen]

	packetID, n, err := readVarint(buf)
	if err != nil || packetID != packetIDStatus {
		return nil, tcpengine.ErrInvalidResponse
	}

	buf = buf[n:]

	jsonLen, n, err := readVarint(buf)
	if err != nil {
		return nil, tcpengine.ErrInvalidResponse
	}

	buf = buf[n:]
	if jsonLen < 0 || len(buf) < int(jsonLen) {
		return nil, tcpengine.ErrInvalidResponse
	}

	json := buf[:jsonLen]
	if len(json) == 0 || json[0] != '{' {
		return nil, tcpengine.ErrInvalidResponse
	}

	return json, nil
}

// framePacket prepends a varint length prefix to an already-encoded packet
// body (packet ID included).
func framePacket(body []byte) []byte {
	out := putVarint(nil, int32(len(body)))
	return append(out, body...)
}
