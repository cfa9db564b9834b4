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

// Package orchestrator drives the persistent scan cycle: pick a category,
// obtain scan ranges from a strategy, apply excludes, run the sender while
// the receiver keeps draining, wait for the processor to catch up, sleep,
// and score the strategy that produced the ranges. It owns no network I/O
// or persistence itself — it's purely the control loop wiring together
// pkg/session, pkg/tcpengine, pkg/pipeline, pkg/strategy and pkg/strategies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/session"
	"github.com/mat-scan/matscan/pkg/strategies"
	"github.com/mat-scan/matscan/pkg/strategy"
	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

// Category is one of the three kinds of cycle the orchestrator alternates
// between, round-robin by cycle index.
type Category int

const (
	CategoryNormal Category = iota
	CategoryRescan
	CategoryFingerprint
)

func (c Category) String() string {
	switch c {
	case CategoryNormal:
		return "normal"
	case CategoryRescan:
		return "rescan"
	case CategoryFingerprint:
		return "fingerprint"
	default:
		return "unknown"
	}
}

// ErrNoCategoriesEnabled is returned by RunCycle if the scanner, every
// rescan window, and fingerprinting are all disabled in configuration.
var ErrNoCategoriesEnabled = errors.New("orchestrator: scanner, rescan, and fingerprinting are all disabled")

// Store is the persistence surface the orchestrator needs directly, beyond
// what it hands to the pipeline and fingerprint sink: the neighborhood and
// rescan strategies' own data source, plus the aliased-IP exclude set.
type Store interface {
	strategies.KnownServerStore
	AliasedIPRanges(ctx context.Context) (*targets.Ipv4Ranges, error)
}

// Pipeline is the subset of *pipeline.Pipeline the orchestrator drives: it
// pushes into it as a tcpengine.Queue, polls IsProcessing between cycles,
// and reads+resets counters to score the strategy that produced a Normal
// cycle's ranges.
type Pipeline interface {
	tcpengine.Queue
	IsProcessing() bool
	Snapshot() pipeline.Counters
	ResetCounters()
}

// processingWaiter is the common shape of Pipeline and *FingerprintSink
// that RunCycle polls after the sender finishes.
type processingWaiter interface {
	IsProcessing() bool
}

const (
	senderPollInterval     = 100 * time.Millisecond
	processingPollInterval = 100 * time.Millisecond
)

// Config is the operator-facing knobs the orchestrator needs per cycle,
// translated from pkg/config.Config by the caller (cmd/matscan).
type Config struct {
	Seed               uint64
	SourcePort         session.SourcePort
	Rate               uint64
	ScanDuration       time.Duration
	SleepInterval      time.Duration
	AliasedAllowedPort uint16

	NormalEnabled     bool
	AllowedStrategies []strategy.Name

	RescanWindows []strategies.RescanWindow

	FingerprintEnabled bool

	// ExitOnDone makes Run return after exactly one cycle, for
	// integration testing and one-shot invocations.
	ExitOnDone bool

	// OnlyScanAddr, if set, narrows every cycle's ranges down to this one
	// address (every port a surviving range already covered) before the
	// sender runs, for reproducing a single target's behavior in isolation.
	OnlyScanAddr *uint32
}

// Orchestrator is the top-level control loop. A single instance owns one
// scan cycle's worth of wiring for the life of the process; the receiver
// keeps running continuously across cycles, with only its active protocol
// swapped out once per cycle.
type Orchestrator struct {
	cfg   Config
	store Store
	log   zerolog.Logger

	picker   *strategy.Picker
	normal   Pipeline
	fpSink   *FingerprintSink
	sock     session.Sender
	receiver *tcpengine.Receiver

	excludeRanges *targets.Ipv4Ranges

	pingProtocol        mcping.Ping
	fingerprintProtocol mcping.Fingerprint

	cycleIndex int
}

// New builds an Orchestrator. excludeRanges is the operator's static
// blocklist (see targets.ParseExcludeFile), loaded once at startup and
// never refreshed mid-run; nil is treated as an empty blocklist.
func New(
	cfg Config,
	store Store,
	picker *strategy.Picker,
	normal Pipeline,
	fpSink *FingerprintSink,
	sock session.Sender,
	receiver *tcpengine.Receiver,
	excludeRanges *targets.Ipv4Ranges,
	pingProtocol mcping.Ping,
	fingerprintProtocol mcping.Fingerprint,
	log zerolog.Logger,
) *Orchestrator {
	if excludeRanges == nil {
		excludeRanges = targets.NewIpv4Ranges(nil)
	}

	return &Orchestrator{
		cfg:                 cfg,
		store:               store,
		log:                 log,
		picker:              picker,
		normal:              normal,
		fpSink:              fpSink,
		sock:                sock,
		receiver:            receiver,
		excludeRanges:       excludeRanges,
		pingProtocol:        pingProtocol,
		fingerprintProtocol: fingerprintProtocol,
	}
}

// Run executes cycles back to back until ctx is cancelled, or — if
// cfg.ExitOnDone is set — until exactly one cycle has completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := o.RunCycle(ctx); err != nil {
			return err
		}

		if o.cfg.ExitOnDone {
			return nil
		}
	}
}

// enabledCategories returns this run's round-robin rotation, in a fixed
// Normal, Rescan, Fingerprint order, skipping whichever config left
// disabled.
func (o *Orchestrator) enabledCategories() []Category {
	var cats []Category

	if o.cfg.NormalEnabled {
		cats = append(cats, CategoryNormal)
	}

	if len(o.cfg.RescanWindows) > 0 {
		cats = append(cats, CategoryRescan)
	}

	if o.cfg.FingerprintEnabled {
		cats = append(cats, CategoryFingerprint)
	}

	return cats
}

// RunCycle runs exactly one cycle of the persistent loop: pick a category,
// gather ranges, apply excludes, scan, wait for processing to drain,
// sleep the remainder of the interval, and score the strategy if this was
// a Normal cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()

	categories := o.enabledCategories()
	if len(categories) == 0 {
		return ErrNoCategoriesEnabled
	}

	category := categories[o.cycleIndex%len(categories)]
	o.cycleIndex++

	chosenStrategy, ranges, queue, err := o.prepareCycle(ctx, category)
	if err != nil {
		return fmt.Errorf("orchestrator: preparing %s cycle: %w", category, err)
	}

	if o.cfg.OnlyScanAddr != nil {
		ranges = restrictToAddr(ranges, *o.cfg.OnlyScanAddr)
	}

	if err := o.applyExcludes(ctx, ranges); err != nil {
		return fmt.Errorf("orchestrator: applying excludes: %w", err)
	}

	o.log.Info().Str("category", category.String()).Str("strategy", string(chosenStrategy)).
		Uint64("targets", ranges.Count()).Msg("starting scan cycle")

	packetsSent := o.runSender(ctx, ranges)

	processingStart := time.Now()
	o.waitForProcessing(ctx, queue)
	processingTime := time.Since(processingStart)

	o.sleepRemainder(ctx, processingTime)

	if category == CategoryNormal {
		o.scoreStrategy(chosenStrategy, start)
	}

	o.log.Info().Str("category", category.String()).Uint64("packets_sent", packetsSent).
		Dur("elapsed", time.Since(start)).Msg("finished scan cycle")

	return nil
}

// prepareCycle resolves category into a concrete set of ranges, installs
// the right protocol on the receiver, and returns the processing sink the
// caller should poll. chosenStrategy is "" for Rescan and Fingerprint
// cycles, which aren't scored.
func (o *Orchestrator) prepareCycle(ctx context.Context, category Category) (strategy.Name, *targets.ScanRanges, processingWaiter, error) {
	ranges := targets.NewScanRanges(nil)

	switch category {
	case CategoryNormal:
		name := o.picker.Pick(o.cfg.AllowedStrategies)

		rs, err := o.rangesForStrategy(ctx, name)
		if err != nil {
			return name, nil, nil, err
		}

		ranges.Extend(rs)
		o.receiver.SetProtocol(o.pingProtocol)
		o.receiver.SetQueue(o.normal)

		return name, ranges, o.normal, nil

	case CategoryRescan:
		for _, window := range o.cfg.RescanWindows {
			rs, err := strategies.Rescan(ctx, o.store, window)
			if err != nil {
				return "", nil, nil, err
			}

			ranges.Extend(rs)
		}

		o.receiver.SetProtocol(o.pingProtocol)
		o.receiver.SetQueue(o.normal)

		return "", ranges, o.normal, nil

	case CategoryFingerprint:
		addrs, err := o.store.ActiveServers(ctx)
		if err != nil {
			return "", nil, nil, err
		}

		rs := make([]targets.ScanRange, 0, len(addrs))
		for _, addr := range addrs {
			rs = append(rs, targets.Single(addr.IP, addr.Port))
		}

		ranges.Extend(rs)
		o.receiver.SetProtocol(o.fingerprintProtocol)
		o.receiver.SetQueue(o.fpSink)

		return "", ranges, o.fpSink, nil

	default:
		return "", nil, nil, fmt.Errorf("unknown category %v", category)
	}
}

// rangesForStrategy dispatches a chosen strategy name to its pkg/strategies
// implementation. Slash16a and Slash24b share Slash16B's and Slash24C's
// implementation respectively: the distilled naming keeps them as distinct
// bandit arms (so the picker can independently learn each name's score)
// even though pkg/strategies exposes only one neighborhood-expansion pass
// per port pattern.
func (o *Orchestrator) rangesForStrategy(ctx context.Context, name strategy.Name) ([]targets.ScanRange, error) {
	switch name {
	case strategy.Slash0:
		return strategies.Slash0(), nil
	case strategy.Slash32:
		return strategies.Slash32(ctx, o.store)
	case strategy.Slash24a:
		return strategies.Slash24A(ctx, o.store)
	case strategy.Slash24b, strategy.Slash24c:
		return strategies.Slash24C(ctx, o.store)
	case strategy.Slash16a, strategy.Slash16b:
		return strategies.Slash16B(ctx, o.store)
	case strategy.Rescan1Day, strategy.Rescan7Days, strategy.Rescan30Days,
		strategy.Rescan365Days, strategy.RescanOlderThan365Days:
		return strategies.Rescan(ctx, o.store, rescanPreset(name))
	default:
		return nil, fmt.Errorf("no range implementation for strategy %q", name)
	}
}

// rescanPreset maps a canned rescan bandit arm to its age window. The
// constants are ported verbatim from the five fixed RescanConfig literals
// the original scorer used for these same arms, padded enabled on all
// five so each of these rescans blends into a sweep of the /24s it
// touches.
func rescanPreset(name strategy.Name) strategies.RescanWindow {
	day := 24 * time.Hour

	switch name {
	case strategy.Rescan1Day:
		return strategies.RescanWindow{
			RescanEvery: 2 * time.Hour, LastPingAgoMax: day,
			Limit: 250_000, Sort: strategies.SortOldest, Padded: true,
		}
	case strategy.Rescan7Days:
		return strategies.RescanWindow{
			RescanEvery: day, LastPingAgoMax: 7 * day,
			Limit: 250_000, Sort: strategies.SortOldest, Padded: true,
		}
	case strategy.Rescan30Days:
		return strategies.RescanWindow{
			RescanEvery: 7 * day, LastPingAgoMax: 30 * day,
			Limit: 250_000, Sort: strategies.SortRandom, Padded: true,
		}
	case strategy.Rescan365Days:
		return strategies.RescanWindow{
			RescanEvery: 30 * day, LastPingAgoMax: 365 * day,
			Limit: 500_000, Sort: strategies.SortRandom, Padded: true,
		}
	case strategy.RescanOlderThan365Days:
		return strategies.RescanWindow{
			RescanEvery: 365 * day, LastPingAgoMax: 10 * 365 * day,
			Limit: 500_000, Sort: strategies.SortRandom, Padded: true,
		}
	default:
		return strategies.RescanWindow{}
	}
}

// restrictToAddr narrows ranges down to whichever surviving fragments
// cover addr, keeping each fragment's original port span. A cycle whose
// ranges never included addr at all ends up empty, same as an ordinary
// exclude dropping every target.
func restrictToAddr(ranges *targets.ScanRanges, addr uint32) *targets.ScanRanges {
	var kept []targets.ScanRange

	for _, r := range ranges.Ranges() {
		if addr < r.IPStart || addr > r.IPEnd {
			continue
		}

		kept = append(kept, targets.SingleAddress(addr, r.PortStart, r.PortEnd))
	}

	return targets.NewScanRanges(kept)
}

// applyExcludes subtracts the operator's static blocklist, then the
// aliased-IP exclude set, re-admitting a default-port-only range for every
// interval the aliased-IP pass removed (the blocklist pass is a hard
// drop and is never re-admitted).
func (o *Orchestrator) applyExcludes(ctx context.Context, ranges *targets.ScanRanges) error {
	ranges.ApplyExclude(o.excludeRanges)

	aliased, err := o.store.AliasedIPRanges(ctx)
	if err != nil {
		return fmt.Errorf("loading aliased ip ranges: %w", err)
	}

	removed := ranges.ApplyExclude(aliased)

	readmit := make([]targets.ScanRange, 0, len(removed))
	for _, r := range removed {
		readmit = append(readmit, targets.SinglePort(r.Start, r.End, o.cfg.AliasedAllowedPort))
	}

	ranges.Extend(readmit)

	return nil
}

// runSender spawns the sender as its own goroutine and polls every 100ms
// until it finishes, mirroring the dedicated-thread-plus-poll shape step 5
// and 6 describe; the receiver keeps draining segments on its own
// goroutine throughout.
func (o *Orchestrator) runSender(ctx context.Context, ranges *targets.ScanRanges) uint64 {
	sess := session.New(ranges, o.cfg.Seed)
	srcPort := o.cfg.SourcePort.Pick(uint32(o.cfg.Seed))

	done := make(chan uint64, 1)

	go func() {
		done <- sess.Run(ctx, o.sock, srcPort, o.cfg.Seed, o.cfg.Rate, o.cfg.ScanDuration, o.log)
	}()

	ticker := time.NewTicker(senderPollInterval)
	defer ticker.Stop()

	for {
		select {
		case packets := <-done:
			return packets
		case <-ticker.C:
		}
	}
}

// waitForProcessing polls queue.IsProcessing every 100ms until it clears
// or ctx is cancelled.
func (o *Orchestrator) waitForProcessing(ctx context.Context, queue processingWaiter) {
	ticker := time.NewTicker(processingPollInterval)
	defer ticker.Stop()

	for queue.IsProcessing() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleepRemainder sleeps sleep_secs minus the time processing just took,
// clamped to zero.
func (o *Orchestrator) sleepRemainder(ctx context.Context, processingTime time.Duration) {
	remaining := o.cfg.SleepInterval - processingTime
	if remaining <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}

// scoreStrategy reads and resets the pipeline's counters and feeds them to
// the picker, skipping the no-op for Rescan/Fingerprint cycles (name == "").
func (o *Orchestrator) scoreStrategy(name strategy.Name, start time.Time) {
	if name == "" {
		return
	}

	counters := o.normal.Snapshot()
	o.normal.ResetCounters()

	score := strategy.ComputeScore(counters.Added, counters.AddedOnDefaultPort, counters.Revived, time.Since(start))

	if err := o.picker.Update(name, score); err != nil {
		o.log.Warn().Err(err).Str("strategy", string(name)).Msg("failed to persist strategy score")
	}
}
