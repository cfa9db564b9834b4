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

// Package pipeline turns raw ping bytes handed off by pkg/tcpengine's
// receiver into classified, persisted servers: JSON parsing, the
// banned-content and aliased-IP filters, field extraction, and the
// Added/Revived/Updated classification against store state all happen
// here, off the receiver's hot path.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/targets"
)

const (
	defaultChunkSize = 100
	pollInterval     = 100 * time.Millisecond
	revivedAfter     = 2 * time.Hour
)

// Classification records why a server row was written: new, back from the
// dead, or just refreshed.
type Classification string

const (
	ClassAdded   Classification = "added"
	ClassRevived Classification = "revived"
	ClassUpdated Classification = "updated"
)

// Store is the subset of the persistence layer the pipeline depends on.
// Defined here, not in pkg/store, because the pipeline is the consumer.
type Store interface {
	// LastPinged returns the server's last_pinged timestamp and whether a
	// row for addr exists at all.
	LastPinged(ctx context.Context, addr targets.Addr) (lastPinged time.Time, known bool, err error)

	// IsAliasedDrop reports whether addr should be dropped because its IP
	// is already known to be aliased and addr.Port isn't the allowed port.
	IsAliasedDrop(ctx context.Context, addr targets.Addr) (bool, error)

	// MarkAliased records ip as aliased, keeping only allowedPort, and
	// deletes any already-persisted rows for ip on other ports, all in
	// one transaction.
	MarkAliased(ctx context.Context, ip uint32, allowedPort uint16) error

	// UpsertServer writes resp for addr under the given classification,
	// along with its favicon and player sample, in one transaction.
	UpsertServer(ctx context.Context, addr targets.Addr, resp *mcping.PingResponse, class Classification) error
}

// Counters accumulates per-cycle outcome counts; the orchestrator reads a
// snapshot at cycle end to score the strategy that produced the ranges.
type Counters struct {
	Added              int
	Revived            int
	Updated            int
	AddedOnDefaultPort int
}

type queuedResponse struct {
	Addr targets.Addr
	Data []byte
}

// sharedData is the queue pushed into by the receiver thread and drained
// by Pipeline.Run — the one piece of state the two goroutines share.
type sharedData struct {
	mu         sync.Mutex
	queue      []queuedResponse
	processing bool
}

func (s *sharedData) push(addr targets.Addr, data []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, queuedResponse{Addr: addr, Data: data})
	s.mu.Unlock()
}

func (s *sharedData) isProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.processing || len(s.queue) > 0
}

func (s *sharedData) drain(max int) []queuedResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}

	n := max
	if n > len(s.queue) {
		n = len(s.queue)
	}

	chunk := s.queue[:n]
	s.queue = s.queue[n:]
	s.processing = true

	return chunk
}

func (s *sharedData) doneProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

// Pipeline drains queued ping responses, classifies and persists each one,
// and feeds the result to the aliased-IP detector and snipe tracker.
type Pipeline struct {
	shared *sharedData

	store    Store
	snipe    *mcping.SnipeTracker
	detector *Detector
	log      zerolog.Logger

	chunkSize int

	countersMu sync.Mutex
	counters   Counters
}

// New builds a Pipeline. snipe and detector may both be nil to disable
// sniping and aliased-IP detection respectively.
func New(store Store, snipe *mcping.SnipeTracker, detector *Detector, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		shared:    &sharedData{},
		store:     store,
		snipe:     snipe,
		detector:  detector,
		log:       log,
		chunkSize: defaultChunkSize,
	}
}

// Push implements tcpengine.Queue: the receiver calls this for every
// completed response, from its own goroutine.
func (p *Pipeline) Push(addr targets.Addr, data []byte) {
	p.shared.push(addr, data)
}

// IsProcessing reports whether the queue is non-empty or a chunk is
// currently being persisted. The orchestrator polls this after the sender
// finishes before it's safe to move to the next cycle.
func (p *Pipeline) IsProcessing() bool {
	return p.shared.isProcessing()
}

// Snapshot returns a copy of the accumulated counters.
func (p *Pipeline) Snapshot() Counters {
	p.countersMu.Lock()
	defer p.countersMu.Unlock()

	return p.counters
}

// ResetCounters zeroes the accumulated counters, called once the
// orchestrator has read a Snapshot for scoring.
func (p *Pipeline) ResetCounters() {
	p.countersMu.Lock()
	p.counters = Counters{}
	p.countersMu.Unlock()
}

// Run drains the queue in chunks of chunkSize until ctx is cancelled,
// polling every 100ms when the queue is empty — matching the task loop the
// distributed scanner this was modeled on uses for its processing queue.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chunk := p.shared.drain(p.chunkSize)
			if chunk == nil {
				continue
			}

			p.processChunk(ctx, chunk)
			p.shared.doneProcessing()
		}
	}
}

func (p *Pipeline) processChunk(ctx context.Context, chunk []queuedResponse) {
	dedup := make(map[targets.Addr][]byte, len(chunk))
	order := make([]targets.Addr, 0, len(chunk))

	for _, r := range chunk {
		if _, seen := dedup[r.Addr]; !seen {
			order = append(order, r.Addr)
		}

		dedup[r.Addr] = r.Data
	}

	for _, addr := range order {
		p.processOne(ctx, addr, dedup[addr])
	}
}

func (p *Pipeline) processOne(ctx context.Context, addr targets.Addr, data []byte) {
	resp, err := mcping.ParsePingResponseJSON(data)
	if err != nil {
		return
	}

	if !mcping.IsAllowed(&resp) {
		return
	}

	if drop, err := p.store.IsAliasedDrop(ctx, addr); err != nil {
		p.log.Warn().Err(err).Msg("failed to check aliased-ip drop list")
	} else if drop {
		return
	}

	if p.detector != nil {
		hash := mcping.ResponseHash(&resp)
		if p.detector.Observe(addr.IP, addr.Port, hash) {
			if err := p.store.MarkAliased(ctx, addr.IP, DefaultAliasedPort); err != nil {
				p.log.Warn().Err(err).Msg("failed to mark ip as aliased")
			}
		}
	}

	lastPinged, known, err := p.store.LastPinged(ctx, addr)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to look up last ping time")
		return
	}

	class := classify(lastPinged, known)

	if err := p.store.UpsertServer(ctx, addr, &resp, class); err != nil {
		p.log.Warn().Err(err).Msg("failed to upsert server")
		return
	}

	p.recordCounter(class, addr.Port)

	if p.snipe != nil {
		p.snipe.Check(ctx, addr, &resp)
	}
}

func classify(lastPinged time.Time, known bool) Classification {
	if !known {
		return ClassAdded
	}

	if time.Since(lastPinged) > revivedAfter {
		return ClassRevived
	}

	return ClassUpdated
}

func (p *Pipeline) recordCounter(class Classification, port uint16) {
	p.countersMu.Lock()
	defer p.countersMu.Unlock()

	switch class {
	case ClassAdded:
		p.counters.Added++
		if port == DefaultAliasedPort {
			p.counters.AddedOnDefaultPort++
		}
	case ClassRevived:
		p.counters.Revived++
	case ClassUpdated:
		p.counters.Updated++
	}
}
