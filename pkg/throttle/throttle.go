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

// Package throttle implements an AIMD packet-rate controller: batch sizes
// grow multiplicatively while under the configured ceiling and shrink
// multiplicatively (plus a short sleep) as soon as the measured rate
// exceeds it, the same shape as masscan's main-throttle.c.
package throttle

import (
	"time"
)

const (
	growFactor     = 1.005
	shrinkFactor   = 0.999
	maxBatchSize   = 10000.
	ringBufferSize = 256
	maxSleep       = 100 * time.Millisecond
)

type batch struct {
	t                      time.Time
	totalPacketsSentBefore uint64
	size                   uint64
}

// Throttler hands out batch sizes, one call to NextBatch per send cycle, so
// that the long-run packet rate stays near maxRate without a hard per-packet
// rate limiter (which would cap burstiness the scanner wants for efficient
// NIC use).
type Throttler struct {
	maxRate uint64

	ring  [ringBufferSize]batch
	head  int // index of the oldest entry
	count int // number of valid entries

	batchSize        float64
	totalPacketsSent uint64

	sleep func(time.Duration)
}

// New creates a Throttler targeting maxPacketsPerSecond.
func New(maxPacketsPerSecond uint64) *Throttler {
	return &Throttler{
		maxRate:   maxPacketsPerSecond,
		batchSize: 1,
		sleep:     time.Sleep,
	}
}

// NextBatch returns how many packets the caller should send before calling
// NextBatch again.
func (t *Throttler) NextBatch() uint64 {
	for {
		currentRate := t.EstimatedPacketsPerSecond()

		t.pushBatch(batch{
			t:                      time.Now(),
			totalPacketsSentBefore: t.totalPacketsSent,
			size:                   uint64(t.batchSize),
		})

		if currentRate > t.maxRate {
			sleepTime := time.Duration(float64(currentRate-t.maxRate) / float64(t.maxRate) / 10. * float64(time.Second))
			if sleepTime > maxSleep {
				sleepTime = maxSleep
			}

			t.batchSize *= shrinkFactor

			t.sleep(sleepTime)

			continue
		}

		t.batchSize *= growFactor
		if t.batchSize > maxBatchSize {
			t.batchSize = maxBatchSize
		}

		size := uint64(t.batchSize)
		t.totalPacketsSent += size

		return size
	}
}

// EstimatedPacketsPerSecond compares the oldest and newest retained batches
// to estimate the current sustained rate.
func (t *Throttler) EstimatedPacketsPerSecond() uint64 {
	if t.count < 2 {
		return 0
	}

	oldest := t.ring[t.head]
	newest := t.ring[(t.head+t.count-1)%ringBufferSize]

	elapsed := newest.t.Sub(oldest.t).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return uint64(float64(newest.totalPacketsSentBefore-oldest.totalPacketsSentBefore) / elapsed)
}

func (t *Throttler) pushBatch(b batch) {
	idx := (t.head + t.count) % ringBufferSize

	if t.count < ringBufferSize {
		t.count++
	} else {
		t.head = (t.head + 1) % ringBufferSize
	}

	t.ring[idx] = b
}
