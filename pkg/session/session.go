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

// Package session drives the sender side of one scan cycle: a
// pseudo-randomly shuffled walk over a fixed target set, throttled to a
// configured packet rate, each target getting exactly one SYN stamped with
// its cookie-derived sequence number.
package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
	"github.com/mat-scan/matscan/pkg/throttle"
)

// Sender is the subset of *rawnet.Socket the send loop needs.
type Sender interface {
	SendSYN(dstIP [4]byte, srcPort, dstPort uint16, seq uint32) error
}

// Session holds the shuffled view over one run's target set.
type Session struct {
	prp    *PRP
	ranges *targets.StaticScanRanges
}

// New builds a Session over ranges, seeded for reproducible ordering.
func New(ranges *targets.ScanRanges, seed uint64) *Session {
	static := ranges.ToStatic()
	return &Session{prp: NewPRP(static.Count(), seed), ranges: static}
}

// TargetCount returns the number of addresses this session will visit.
func (s *Session) TargetCount() uint64 {
	return s.ranges.Count()
}

// Run sends SYNs until every target in range has been visited once, the
// scan duration elapses, or ctx is cancelled — whichever comes first. It
// returns the number of packets actually sent.
func (s *Session) Run(
	ctx context.Context,
	sender Sender,
	srcPort uint16,
	seed uint64,
	maxPacketsPerSecond uint64,
	scanDuration time.Duration,
	log zerolog.Logger,
) uint64 {
	th := throttle.New(maxPacketsPerSecond)

	targetCount := s.ranges.Count()
	if cap := maxPacketsPerSecond * uint64(scanDuration.Seconds()); cap < targetCount {
		targetCount = cap
	}

	start := time.Now()

	var (
		packetsSent      uint64
		packetsAtLastLog uint64
	)

	lastLogTime := start

	for {
		select {
		case <-ctx.Done():
			return packetsSent
		default:
		}

		if packetsSent != 0 && time.Since(lastLogTime) > 5*time.Second {
			rate := float64(packetsSent-packetsAtLastLog) / time.Since(lastLogTime).Seconds()
			log.Info().
				Uint64("packets_sent", packetsSent).
				Float64("packets_per_second", rate).
				Uint64("throttler_estimate", th.EstimatedPacketsPerSecond()).
				Msg("scan progress")

			packetsAtLastLog = packetsSent
			lastLogTime = time.Now()
		}

		batchSize := th.NextBatch()
		if packetsSent+batchSize > targetCount {
			batchSize = targetCount - packetsSent
		}

		for i := uint64(0); i < batchSize; i++ {
			shuffled := s.prp.Shuffle(packetsSent)
			addr := s.ranges.Index(shuffled)

			cookie := tcpengine.Cookie(addr.IP, addr.Port, seed)

			if err := sender.SendSYN(ipToBytes(addr.IP), srcPort, addr.Port, cookie); err != nil {
				log.Debug().Err(err).Uint32("ip", addr.IP).Uint16("port", addr.Port).Msg("failed to send SYN")
			}

			packetsSent++
		}

		if packetsSent >= targetCount {
			log.Info().Uint64("packets_sent", packetsSent).Msg("finished sending")
			return packetsSent
		}

		if time.Since(start) > scanDuration {
			log.Info().Dur("scan_duration", scanDuration).Msg("scan duration elapsed, finishing")
			return packetsSent
		}
	}
}

func ipToBytes(ip uint32) [4]byte {
	return [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}
}
