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

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/targets"
)

type upsertCall struct {
	Addr  targets.Addr
	Class Classification
}

type fakeStore struct {
	mu sync.Mutex

	lastPinged   map[targets.Addr]time.Time
	aliasedDrop  map[targets.Addr]bool
	upserts      []upsertCall
	markAliased  []uint32
	lastPingedFn func(targets.Addr) (time.Time, bool, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lastPinged:  make(map[targets.Addr]time.Time),
		aliasedDrop: make(map[targets.Addr]bool),
	}
}

func (f *fakeStore) LastPinged(_ context.Context, addr targets.Addr) (time.Time, bool, error) {
	if f.lastPingedFn != nil {
		return f.lastPingedFn(addr)
	}

	t, ok := f.lastPinged[addr]

	return t, ok, nil
}

func (f *fakeStore) IsAliasedDrop(_ context.Context, addr targets.Addr) (bool, error) {
	return f.aliasedDrop[addr], nil
}

func (f *fakeStore) MarkAliased(_ context.Context, ip uint32, _ uint16) error {
	f.mu.Lock()
	f.markAliased = append(f.markAliased, ip)
	f.mu.Unlock()

	return nil
}

func (f *fakeStore) UpsertServer(_ context.Context, addr targets.Addr, _ *mcping.PingResponse, class Classification) error {
	f.mu.Lock()
	f.upserts = append(f.upserts, upsertCall{Addr: addr, Class: class})
	f.mu.Unlock()

	return nil
}

func (f *fakeStore) upsertsSnapshot() []upsertCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]upsertCall, len(f.upserts))
	copy(out, f.upserts)

	return out
}

func validStatusJSON(t *testing.T) []byte {
	t.Helper()

	return []byte(`{"description":{"text":"hello"},"players":{"max":20,"online":1},"version":{"name":"1.20","protocol":763}}`)
}

func TestPipelinePushAndRunClassifiesAdded(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	addr := targets.Addr{IP: 0x01020304, Port: 25565}
	p.Push(addr, validStatusJSON(t))

	require.Eventually(t, func() bool {
		return len(store.upsertsSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	calls := store.upsertsSnapshot()
	assert.Equal(t, ClassAdded, calls[0].Class)
	assert.Equal(t, 1, p.Snapshot().Added)
	assert.Equal(t, 1, p.Snapshot().AddedOnDefaultPort)
}

func TestPipelineClassifiesRevivedAfterTwoHours(t *testing.T) {
	store := newFakeStore()
	addr := targets.Addr{IP: 0x01020304, Port: 25565}
	store.lastPinged[addr] = time.Now().Add(-3 * time.Hour)

	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Push(addr, validStatusJSON(t))

	require.Eventually(t, func() bool {
		return len(store.upsertsSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ClassRevived, store.upsertsSnapshot()[0].Class)
}

func TestPipelineClassifiesUpdatedWithinTwoHours(t *testing.T) {
	store := newFakeStore()
	addr := targets.Addr{IP: 0x01020304, Port: 25565}
	store.lastPinged[addr] = time.Now().Add(-30 * time.Minute)

	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Push(addr, validStatusJSON(t))

	require.Eventually(t, func() bool {
		return len(store.upsertsSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ClassUpdated, store.upsertsSnapshot()[0].Class)
}

func TestPipelineDropsBannedContent(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	banned := []byte(`{"description":{"text":"COSMIC GUARD"},"players":{"max":20,"online":1},"version":{"name":"COSMIC GUARD","protocol":763}}`)
	p.Push(targets.Addr{IP: 1, Port: 25565}, banned)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, store.upsertsSnapshot())
}

func TestPipelineDropsAliasedNonDefaultPort(t *testing.T) {
	store := newFakeStore()
	addr := targets.Addr{IP: 0x01020304, Port: 30000}
	store.aliasedDrop[addr] = true

	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Push(addr, validStatusJSON(t))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, store.upsertsSnapshot())
}

func TestPipelineDropsUnparseableData(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Push(targets.Addr{IP: 1, Port: 25565}, []byte("not json"))

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, store.upsertsSnapshot())
}

func TestPipelineDedupesPerChunkKeepingLatest(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, zerolog.Nop())
	p.chunkSize = 100

	addr := targets.Addr{IP: 1, Port: 25565}

	// Push both before Run starts so they land in the same drained chunk.
	p.shared.push(addr, []byte(`{"description":{"text":"first"},"players":{"max":1,"online":0},"version":{"name":"1.20","protocol":763}}`))
	p.shared.push(addr, []byte(`{"description":{"text":"second"},"players":{"max":1,"online":0},"version":{"name":"1.20","protocol":763}}`))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(store.upsertsSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, store.upsertsSnapshot(), 1)
}

func TestPipelineMarksAliasedAfterThreshold(t *testing.T) {
	store := newFakeStore()
	detector := NewDetector()
	p := New(store, nil, detector, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	ip := uint32(0x0a000001)
	for port := uint16(1); port <= AliasTriggerCount; port++ {
		p.Push(targets.Addr{IP: ip, Port: port}, validStatusJSON(t))
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()

		return len(store.markAliased) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipelineResetCounters(t *testing.T) {
	store := newFakeStore()
	p := New(store, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Run(ctx)

	p.Push(targets.Addr{IP: 1, Port: 25565}, validStatusJSON(t))

	require.Eventually(t, func() bool {
		return p.Snapshot().Added == 1
	}, time.Second, 5*time.Millisecond)

	p.ResetCounters()
	assert.Equal(t, Counters{}, p.Snapshot())
}

func TestIsProcessingReflectsQueueAndInFlightWork(t *testing.T) {
	p := New(newFakeStore(), nil, nil, zerolog.Nop())
	assert.False(t, p.IsProcessing())

	p.Push(targets.Addr{IP: 1, Port: 25565}, validStatusJSON(t))
	assert.True(t, p.IsProcessing())
}
