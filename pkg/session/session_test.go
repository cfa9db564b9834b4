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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-scan/matscan/pkg/targets"
)

type fakeSender struct {
	sent []struct {
		ip   [4]byte
		port uint16
	}
}

func (f *fakeSender) SendSYN(dstIP [4]byte, _, dstPort uint16, _ uint32) error {
	f.sent = append(f.sent, struct {
		ip   [4]byte
		port uint16
	}{dstIP, dstPort})

	return nil
}

func TestSessionRunVisitsEveryTargetExactlyOnce(t *testing.T) {
	ranges := targets.NewScanRanges([]targets.ScanRange{
		targets.SinglePort(ipv4(10, 0, 0, 0), ipv4(10, 0, 0, 9), 25565),
	})

	sess := New(ranges, 1)
	require.Equal(t, uint64(10), sess.TargetCount())

	sender := &fakeSender{}
	sent := sess.Run(context.Background(), sender, 40000, 1, 1_000_000, time.Minute, zerolog.Nop())

	assert.Equal(t, uint64(10), sent)
	assert.Len(t, sender.sent, 10)

	seen := make(map[[4]byte]bool)
	for _, s := range sender.sent {
		seen[s.ip] = true
		assert.Equal(t, uint16(25565), s.port)
	}

	assert.Len(t, seen, 10)
}

func TestSessionRunRespectsContextCancellation(t *testing.T) {
	ranges := targets.NewScanRanges([]targets.ScanRange{
		targets.SinglePort(ipv4(10, 0, 0, 0), ipv4(10, 0, 0, 255), 25565),
	})

	sess := New(ranges, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := &fakeSender{}
	sent := sess.Run(ctx, sender, 40000, 1, 1_000_000, time.Minute, zerolog.Nop())

	assert.Equal(t, uint64(0), sent)
	assert.Empty(t, sender.sent)
}

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}
