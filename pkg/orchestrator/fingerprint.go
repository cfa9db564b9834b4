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

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

// fingerprintPollInterval is how often Run drains pending fingerprint
// results, matching pipeline.Pipeline's own drain cadence.
const fingerprintPollInterval = 100 * time.Millisecond

// SoftwareStore is the persistence surface FingerprintSink needs: recording
// which server software (or absence of a classifiable response) was
// observed at an address.
type SoftwareStore interface {
	UpdateDetectedSoftware(ctx context.Context, addr targets.Addr, software string) error
}

type fingerprintResult struct {
	addr     targets.Addr
	software string
}

// FingerprintSink is a tcpengine.Queue that persists fingerprint results
// directly, bypassing pipeline.Pipeline: mcping.Fingerprint.ParseResponse
// returns a raw classification string rather than the status JSON
// pipeline.Pipeline expects, so it needs its own, simpler drain loop.
type FingerprintSink struct {
	store SoftwareStore
	log   zerolog.Logger

	mu         sync.Mutex
	pending    []fingerprintResult
	processing bool
}

var _ tcpengine.Queue = (*FingerprintSink)(nil)

// NewFingerprintSink builds a FingerprintSink persisting through store.
func NewFingerprintSink(store SoftwareStore, log zerolog.Logger) *FingerprintSink {
	return &FingerprintSink{store: store, log: log}
}

// Push implements tcpengine.Queue. data is the raw software classification
// string produced by mcping.Fingerprint.ParseResponse.
func (f *FingerprintSink) Push(addr targets.Addr, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, fingerprintResult{addr: addr, software: string(data)})
	f.processing = true
}

// IsProcessing reports whether results are queued or currently being
// persisted.
func (f *FingerprintSink) IsProcessing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.processing
}

func (f *FingerprintSink) drain() []fingerprintResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.pending
	f.pending = nil

	return pending
}

func (f *FingerprintSink) doneProcessing() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		f.processing = false
	}
}

// Run drains and persists pending results every fingerprintPollInterval
// until ctx is cancelled.
func (f *FingerprintSink) Run(ctx context.Context) {
	ticker := time.NewTicker(fingerprintPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.drainAndPersist(ctx)
		}
	}
}

func (f *FingerprintSink) drainAndPersist(ctx context.Context) {
	results := f.drain()

	for _, r := range results {
		if err := f.store.UpdateDetectedSoftware(ctx, r.addr, r.software); err != nil {
			f.log.Warn().Err(err).Uint32("ip", r.addr.IP).Uint16("port", r.addr.Port).
				Msg("failed to persist detected software")
		}
	}

	f.doneProcessing()
}
