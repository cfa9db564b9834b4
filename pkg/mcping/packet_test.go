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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

func TestPayloadEncodesHandshakeAndStatusRequest(t *testing.T) {
	p := Ping{Handshake: HandshakeConfig{ProtocolVersion: 765, Hostname: "example.com", Port: 25565}}

	payload := p.Payload(targets.Addr{})
	require.NotEmpty(t, payload)

	packetLen, n, err := readVarint(payload)
	require.NoError(t, err)
	buf := payload[n:]
	require.GreaterOrEqual(t, len(buf), int(packetLen))

	packetID, n, err := readVarint(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(0), packetID)
	buf = buf[n:]

	protocolVersion, n, err := readVarint(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(765), protocolVersion)
	buf = buf[n:]

	hostLen, n, err := readVarint(buf)
	require.NoError(t, err)
	buf = buf[n:]
	assert.Equal(t, "example.com", string(buf[:hostLen]))
	buf = buf[hostLen:]

	port := uint16(buf[0])<<8 | uint16(buf[1])
	assert.EqualValues(t, 25565, port)
	buf = buf[2:]

	nextState, _, err := readVarint(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(1), nextState)
}

func statusResponseBytes(t *testing.T, json string) []byte {
	t.Helper()

	idAndJSON := putVarint(nil, packetIDStatus)
	idAndJSON = putVarstring(idAndJSON, json)

	return framePacket(idAndJSON)
}

func TestParseResponseCompleteStatus(t *testing.T) {
	data := statusResponseBytes(t, `{"description":"hi"}`)

	out, err := Ping{}.ParseResponse(targets.Addr{}, tcpengine.Response{Kind: tcpengine.ResponseData, Data: data})
	require.NoError(t, err)
	assert.Equal(t, `{"description":"hi"}`, string(out))
}

func TestParseResponseIncompleteWaitsForMoreBytes(t *testing.T) {
	data := statusResponseBytes(t, `{"description":"hi"}`)

	_, err := Ping{}.ParseResponse(targets.Addr{}, tcpengine.Response{Kind: tcpengine.ResponseData, Data: data[:len(data)-3]})
	assert.ErrorIs(t, err, tcpengine.ErrIncompleteResponse)
}

func TestParseResponseRejectsRST(t *testing.T) {
	_, err := Ping{}.ParseResponse(targets.Addr{}, tcpengine.Response{Kind: tcpengine.ResponseRST})
	assert.ErrorIs(t, err, tcpengine.ErrInvalidResponse)
}

func TestParseResponseRejectsNonJSON(t *testing.T) {
	data := statusResponseBytes(t, `not json`)

	_, err := Ping{}.ParseResponse(targets.Addr{}, tcpengine.Response{Kind: tcpengine.ResponseData, Data: data})
	assert.ErrorIs(t, err, tcpengine.ErrInvalidResponse)
}
