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

import (
	"encoding/binary"
	"hash/fnv"
)

// Cookie derives the SYN cookie for one (ip, port) target under seed: the
// low 32 bits of a deterministic, seeded hash. It doubles as the initial
// sequence number on the SYN we send and the value we check the peer's ACK
// against, so we never need per-target state until a SYN-ACK actually comes
// back.
func Cookie(ip uint32, port uint16, seed uint64) uint32 {
	h := fnv.New64a()

	var buf [14]byte
	binary.BigEndian.PutUint32(buf[0:4], ip)
	binary.BigEndian.PutUint16(buf[4:6], port)
	binary.BigEndian.PutUint64(buf[6:14], seed)

	_, _ = h.Write(buf[:])

	return uint32(h.Sum64())
}

func ipToBytes(ip uint32) [4]byte {
	return [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
}

func bytesToIP(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
