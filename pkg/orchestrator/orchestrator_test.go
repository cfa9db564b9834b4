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
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/rawnet"
	"github.com/mat-scan/matscan/pkg/session"
	"github.com/mat-scan/matscan/pkg/strategies"
	"github.com/mat-scan/matscan/pkg/strategy"
	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

type fakeStore struct {
	active    []targets.Addr
	rescanOut []targets.Addr
	aliased   *targets.Ipv4Ranges
}

func (f *fakeStore) ActiveServers(context.Context) ([]targets.Addr, error) {
	return f.active, nil
}

func (f *fakeStore) RescanCandidates(context.Context, strategies.RescanWindow) ([]targets.Addr, error) {
	return f.rescanOut, nil
}

func (f *fakeStore) AliasedIPRanges(context.Context) (*targets.Ipv4Ranges, error) {
	if f.aliased == nil {
		return targets.NewIpv4Ranges(nil), nil
	}

	return f.aliased, nil
}

type fakePipeline struct {
	pushed     []targets.Addr
	processing bool
	counters   pipeline.Counters
	resetCalls int
}

func (f *fakePipeline) Push(addr targets.Addr, _ []byte) {
	f.pushed = append(f.pushed, addr)
}

func (f *fakePipeline) IsProcessing() bool { return f.processing }

func (f *fakePipeline) Snapshot() pipeline.Counters { return f.counters }

func (f *fakePipeline) ResetCounters() { f.resetCalls++ }

type fakeSender struct {
	calls int
}

func (f *fakeSender) SendSYN([4]byte, uint16, uint16, uint32) error {
	f.calls++
	return nil
}

type fakeSocket struct{}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (fakeSocket) Recv(time.Duration) (rawnet.IPv4Header, rawnet.TCPSegment, error) {
	return rawnet.IPv4Header{}, rawnet.TCPSegment{}, &net.OpError{Err: timeoutErr{}}
}

func (fakeSocket) SendACK([4]byte, uint16, uint16, uint32, uint32) error          { return nil }
func (fakeSocket) SendData([4]byte, uint16, uint16, uint32, uint32, []byte) error { return nil }
func (fakeSocket) SendFINACK([4]byte, uint16, uint16, uint32, uint32) error       { return nil }
func (fakeSocket) SendRST([4]byte, uint16, uint16, uint32, uint32) error          { return nil }

func newTestOrchestrator(t *testing.T, cfg Config, store Store) (*Orchestrator, *fakePipeline, *fakeSender) {
	t.Helper()

	picker := strategy.NewPicker(filepath.Join(t.TempDir(), "strategies.json"))
	normal := &fakePipeline{}
	fpSink := NewFingerprintSink(&fakeSoftwareStore{}, zerolog.Nop())
	sender := &fakeSender{}
	receiver := tcpengine.NewReceiver(fakeSocket{}, 1, mcping.Ping{}, normal, zerolog.Nop())

	o := New(cfg, store, picker, normal, fpSink, sender, receiver, nil, mcping.Ping{}, mcping.Fingerprint{}, zerolog.Nop())

	return o, normal, sender
}

type fakeSoftwareStore struct {
	updates map[targets.Addr]string
}

func (f *fakeSoftwareStore) UpdateDetectedSoftware(_ context.Context, addr targets.Addr, software string) error {
	if f.updates == nil {
		f.updates = make(map[targets.Addr]string)
	}

	f.updates[addr] = software

	return nil
}

func baseConfig() Config {
	return Config{
		Seed:          1,
		SourcePort:    session.FixedSourcePort(40000),
		Rate:          1000,
		ScanDuration:  10 * time.Millisecond,
		SleepInterval: 0,
		NormalEnabled: true,
		ExitOnDone:    true,
	}
}

func TestRunCycleReturnsErrWhenNothingEnabled(t *testing.T) {
	cfg := baseConfig()
	cfg.NormalEnabled = false

	o, _, _ := newTestOrchestrator(t, cfg, &fakeStore{})

	err := o.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrNoCategoriesEnabled)
}

func TestRunCycleNormalScoresStrategy(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedStrategies = []strategy.Name{strategy.Slash0}

	o, normal, sender := newTestOrchestrator(t, cfg, &fakeStore{})
	normal.counters = pipeline.Counters{Added: 5, AddedOnDefaultPort: 1, Revived: 2}

	require.NoError(t, o.RunCycle(context.Background()))

	assert.Greater(t, sender.calls, 0)
	assert.Equal(t, 1, normal.resetCalls)
	assert.NotEqual(t, 1_000_000, o.picker.Score(strategy.Slash0))
}

func TestRunCycleOnlyScanAddrRestrictsToOneTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.AllowedStrategies = []strategy.Name{strategy.Slash0}

	addr := uint32(0x0a000005)
	cfg.OnlyScanAddr = &addr

	o, _, sender := newTestOrchestrator(t, cfg, &fakeStore{})

	require.NoError(t, o.RunCycle(context.Background()))

	assert.Equal(t, 1, sender.calls, "Slash0 restricted to one address should send exactly one SYN")
}

func TestRestrictToAddrKeepsOnlyMatchingFragments(t *testing.T) {
	ranges := targets.NewScanRanges([]targets.ScanRange{
		targets.SinglePort(0, 0xff, 25565),
		targets.SinglePort(0x100, 0x1ff, 19132),
	})

	restricted := restrictToAddr(ranges, 0x10)
	assert.Equal(t, []targets.ScanRange{targets.SingleAddress(0x10, 25565, 25565)}, restricted.Ranges())

	restricted = restrictToAddr(ranges, 0x150)
	assert.Equal(t, []targets.ScanRange{targets.SingleAddress(0x150, 19132, 19132)}, restricted.Ranges())

	restricted = restrictToAddr(ranges, 0xfffff)
	assert.True(t, restricted.IsEmpty())
}

func TestRunCycleRescanDoesNotScore(t *testing.T) {
	cfg := baseConfig()
	cfg.NormalEnabled = false
	cfg.RescanWindows = []strategies.RescanWindow{{RescanEvery: time.Hour, LastPingAgoMax: 2 * time.Hour}}

	store := &fakeStore{rescanOut: []targets.Addr{{IP: 0x0a000001, Port: 25565}}}

	o, _, _ := newTestOrchestrator(t, cfg, store)

	require.NoError(t, o.RunCycle(context.Background()))

	for _, name := range strategy.All {
		assert.Equal(t, 1_000_000, o.picker.Score(name))
	}
}

func TestRunCycleFingerprintUsesActiveServers(t *testing.T) {
	cfg := baseConfig()
	cfg.NormalEnabled = false
	cfg.FingerprintEnabled = true

	store := &fakeStore{active: []targets.Addr{{IP: 0x0a000002, Port: 25565}}}

	o, _, sender := newTestOrchestrator(t, cfg, store)

	require.NoError(t, o.RunCycle(context.Background()))
	assert.Greater(t, sender.calls, 0)
}

func TestEnabledCategoriesRoundRobin(t *testing.T) {
	cfg := baseConfig()
	cfg.RescanWindows = []strategies.RescanWindow{{RescanEvery: time.Hour}}
	cfg.FingerprintEnabled = true

	o, _, _ := newTestOrchestrator(t, cfg, &fakeStore{})

	cats := o.enabledCategories()
	assert.Equal(t, []Category{CategoryNormal, CategoryRescan, CategoryFingerprint}, cats)
}

func TestApplyExcludesReadmitsDefaultPortOnAliasedDrop(t *testing.T) {
	aliased := targets.NewIpv4Ranges([]targets.Ipv4Range{{Start: 0x0a000000, End: 0x0a0000ff}})
	store := &fakeStore{aliased: aliased}

	cfg := baseConfig()
	cfg.AliasedAllowedPort = 25565

	o, _, _ := newTestOrchestrator(t, cfg, store)

	ranges := targets.NewScanRanges([]targets.ScanRange{
		targets.SinglePort(0x0a000000, 0x0a0000ff, 30000),
	})

	require.NoError(t, o.applyExcludes(context.Background(), ranges))

	found := false

	for _, r := range ranges.Ranges() {
		if r.PortStart == 25565 && r.PortEnd == 25565 {
			found = true
		}
	}

	assert.True(t, found, "expected a default-port re-admission range")
}

func TestRescanPresetMapping(t *testing.T) {
	w := rescanPreset(strategy.Rescan1Day)
	assert.Equal(t, 2*time.Hour, w.RescanEvery)
	assert.Equal(t, 24*time.Hour, w.LastPingAgoMax)
	assert.Equal(t, 250_000, w.Limit)
	assert.Equal(t, strategies.SortOldest, w.Sort)
	assert.True(t, w.Padded)

	w = rescanPreset(strategy.Rescan30Days)
	assert.Equal(t, strategies.SortRandom, w.Sort)
	assert.True(t, w.Padded)

	w = rescanPreset(strategy.RescanOlderThan365Days)
	assert.Equal(t, 365*24*time.Hour, w.RescanEvery)
	assert.Equal(t, 10*365*24*time.Hour, w.LastPingAgoMax)
	assert.Equal(t, 500_000, w.Limit)
	assert.Equal(t, strategies.SortRandom, w.Sort)
	assert.True(t, w.Padded)
}
