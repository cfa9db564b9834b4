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
	"regexp"
	"strings"

	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

// nextStateLogin requests the login state instead of status; combined with
// a malformed login-start packet, real server implementations answer with
// a disconnect packet or a raw exception string that leaks which software
// (and sometimes which mod loader) is running.
const nextStateLogin = 2

// malformedLoginStart is a login-start packet truncated to trigger a
// decode error server-side: just enough framing to be recognized as a
// packet, not enough to be a valid one.
var malformedLoginStart = []byte{0x04, 0x00, 0x00, 0x00, 0x00}

// vanillaErrorPattern extracts the inner packet class/name from vanilla's
// disconnect text, e.g. "java.io.IOException: Packet 0/login (ServerboundHelloPacket)".
var vanillaErrorPattern = regexp.MustCompile(`java\.io\.IOException: Packet (?:\d+|login)/(?:\d+|login) \(([^)]+)\)`)

// Software identifies the server implementation guessed from an
// active-fingerprinting probe's response.
type Software string

const (
	SoftwareVanilla               Software = "vanilla"
	SoftwareFabric                Software = "fabric"
	SoftwareForge                 Software = "forge"
	SoftwarePaper                 Software = "paper"
	SoftwareNodeMinecraftProtocol Software = "node_minecraft_protocol"
	SoftwareEmpty                 Software = "empty"
	SoftwareUnknown               Software = "unknown"
)

// Fingerprint implements tcpengine.Protocol for the active-fingerprinting
// probe: a handshake requesting the login state followed by a malformed
// login-start packet, eliciting raw error text that identifies the server
// implementation. Unlike Ping, there's no structured response to hand
// downstream; ParseResponse classifies the software inline and returns
// that classification as its single output token.
type Fingerprint struct {
	Handshake HandshakeConfig
}

var _ tcpengine.Protocol = Fingerprint{}

// Payload builds the handshake (next_state=login) followed by the
// malformed login-start packet.
func (f Fingerprint) Payload(_ targets.Addr) []byte {
	var body []byte
	body = putVarint(body, packetIDHandshake)
	body = putVarint(body, f.Handshake.ProtocolVersion)
	body = putVarstring(body, f.Handshake.Hostname)
	body = append(body, byte(f.Handshake.Port>>8), byte(f.Handshake.Port))
	body = putVarint(body, nextStateLogin)

	out := framePacket(body)

	return append(out, malformedLoginStart...)
}

// ParseResponse never asks for more bytes: whatever arrived on the first
// segment (often a raw, unframed error string rather than a well-formed
// packet) is enough to classify the software. It returns the lowercase
// software name as its result.
func (Fingerprint) ParseResponse(_ targets.Addr, resp tcpengine.Response) ([]byte, error) {
	if resp.Kind == tcpengine.ResponseRST {
		return nil, tcpengine.ErrInvalidResponse
	}

	return []byte(ClassifyFingerprintResponse(resp.Data)), nil
}

// ClassifyFingerprintResponse guesses the server software from the raw
// bytes an active-fingerprinting probe received.
func ClassifyFingerprintResponse(data []byte) Software {
	text := string(data)

	if match := vanillaErrorPattern.FindStringSubmatch(text); match != nil {
		return classifyByPacketName(match[1])
	}

	switch {
	case strings.Contains(text, "Forge"):
		return SoftwareForge
	case strings.HasPrefix(text, "\x03\x03\x80\x02"):
		return SoftwareNodeMinecraftProtocol
	case len(data) == 0:
		return SoftwareEmpty
	default:
		return SoftwareUnknown
	}
}

func classifyByPacketName(packetName string) Software {
	switch packetName {
	case "PacketLoginInStart":
		return SoftwarePaper
	case "ServerboundHelloPacket":
		return SoftwareForge
	}

	switch {
	case strings.HasPrefix(packetName, "class_"):
		return SoftwareFabric
	case len(packetName) >= 2 && len(packetName) <= 3:
		return SoftwareVanilla
	default:
		return SoftwareUnknown
	}
}
