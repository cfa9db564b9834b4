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

package tcpengine

import "github.com/mat-scan/matscan/pkg/targets"

// ResponseKind distinguishes the two shapes of input the wire protocol has
// to cope with: an RST with no payload, or whatever bytes have accumulated
// on a connection so far.
type ResponseKind uint8

const (
	ResponseRST ResponseKind = iota
	ResponseData
)

// Response is handed to Protocol.ParseResponse once per received segment
// that might complete a ping.
type Response struct {
	Kind ResponseKind
	Data []byte
}

// Protocol is implemented by the wire codec (package mcping) and is the
// only thing the receive state machine depends on beyond raw TCP mechanics.
type Protocol interface {
	// Payload returns the bytes to send immediately after the handshake
	// completes for addr (e.g. the Minecraft handshake + status request).
	// An empty return means "skip this target", which the receiver turns
	// into an immediate RST.
	Payload(addr targets.Addr) []byte

	// ParseResponse attempts to interpret resp as a complete response.
	// It returns ErrIncompleteResponse if more bytes are needed, or
	// ErrInvalidResponse if the data will never parse.
	ParseResponse(addr targets.Addr, resp Response) ([]byte, error)
}

// Queue receives (addr, data) pairs for downstream processing. Implemented
// by the processing pipeline's shared queue.
type Queue interface {
	Push(addr targets.Addr, data []byte)
}
