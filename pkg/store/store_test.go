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

// These tests exercise Store against a real Postgres instance, pointed to
// by MATSCAN_TEST_POSTGRES_URI. They're skipped (not failed) when that
// isn't set, since a bare `go test ./...` shouldn't require a running
// database.
package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/strategies"
	"github.com/mat-scan/matscan/pkg/targets"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MATSCAN_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("MATSCAN_TEST_POSTGRES_URI not set, skipping store integration test")
	}

	ctx := context.Background()

	pool, err := NewPool(ctx, uri, zerolog.Nop())
	require.NoError(t, err)

	s := New(pool, zerolog.Nop())
	require.NoError(t, s.EnsureSchema(ctx))

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "TRUNCATE servers, server_players, favicons, ips_with_aliased_servers")
		s.Close()
	})

	_, err = pool.Exec(ctx, "TRUNCATE servers, server_players, favicons, ips_with_aliased_servers")
	require.NoError(t, err)

	return s
}

func TestUpsertServerThenLastPingedRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr := targets.Addr{IP: 0x01020304, Port: 25565}
	resp := &mcping.PingResponse{
		DescriptionJSON:      `{"text":"hi"}`,
		DescriptionPlaintext: "hi",
	}

	_, known, err := s.LastPinged(ctx, addr)
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, s.UpsertServer(ctx, addr, resp, pipeline.ClassAdded))

	lastPinged, known, err := s.LastPinged(ctx, addr)
	require.NoError(t, err)
	require.True(t, known)
	assert.WithinDuration(t, time.Now(), lastPinged, 5*time.Second)
}

func TestUpsertServerWithPlayerSample(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr := targets.Addr{IP: 0x01020305, Port: 25565}
	onlineMode := true
	resp := &mcping.PingResponse{
		DescriptionPlaintext: "hi",
		IsOnlineMode:         &onlineMode,
		PlayerSample: []mcping.SamplePlayer{
			{Name: "Notch", UUID: uuid.New()},
		},
	}

	require.NoError(t, s.UpsertServer(ctx, addr, resp, pipeline.ClassAdded))

	historical, err := s.HasHistoricalAnonymousPlayer(ctx, addr)
	require.NoError(t, err)
	assert.False(t, historical)
}

func TestMarkAliasedDeletesNonDefaultPortRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ip := uint32(0x0a000001)
	defaultAddr := targets.Addr{IP: ip, Port: pipeline.DefaultAliasedPort}
	otherAddr := targets.Addr{IP: ip, Port: 40000}

	require.NoError(t, s.UpsertServer(ctx, defaultAddr, &mcping.PingResponse{DescriptionPlaintext: "a"}, pipeline.ClassAdded))
	require.NoError(t, s.UpsertServer(ctx, otherAddr, &mcping.PingResponse{DescriptionPlaintext: "b"}, pipeline.ClassAdded))

	require.NoError(t, s.MarkAliased(ctx, ip, pipeline.DefaultAliasedPort))

	drop, err := s.IsAliasedDrop(ctx, otherAddr)
	require.NoError(t, err)
	assert.True(t, drop)

	drop, err = s.IsAliasedDrop(ctx, defaultAddr)
	require.NoError(t, err)
	assert.False(t, drop)

	_, known, err := s.LastPinged(ctx, otherAddr)
	require.NoError(t, err)
	assert.False(t, known, "non-default-port row should have been deleted")
}

func TestRescanCandidatesRespectsWindowAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	overdue := targets.Addr{IP: 1, Port: 25565}
	require.NoError(t, s.UpsertServer(ctx, overdue, &mcping.PingResponse{DescriptionPlaintext: "a"}, pipeline.ClassAdded))

	_, err := s.pool.Exec(ctx, `UPDATE servers SET last_pinged = $1 WHERE ip = $2 AND port = $3`,
		time.Now().Add(-48*time.Hour), int64(overdue.IP), int16(overdue.Port))
	require.NoError(t, err)

	tooFresh := targets.Addr{IP: 2, Port: 25565}
	require.NoError(t, s.UpsertServer(ctx, tooFresh, &mcping.PingResponse{DescriptionPlaintext: "b"}, pipeline.ClassAdded))

	candidates, err := s.RescanCandidates(ctx, strategies.RescanWindow{
		RescanEvery:    24 * time.Hour,
		LastPingAgoMax: 7 * 24 * time.Hour,
		Sort:           strategies.SortOldest,
	})
	require.NoError(t, err)

	assert.Contains(t, candidates, overdue)
	assert.NotContains(t, candidates, tooFresh)
}

func TestRescanCandidatesFiltersOnPlayersOnlineAgoMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	online := int32(2)
	recentlyActive := targets.Addr{IP: 10, Port: 25565}
	require.NoError(t, s.UpsertServer(ctx, recentlyActive,
		&mcping.PingResponse{DescriptionPlaintext: "a", OnlinePlayers: &online}, pipeline.ClassAdded))

	neverActive := targets.Addr{IP: 11, Port: 25565}
	require.NoError(t, s.UpsertServer(ctx, neverActive,
		&mcping.PingResponse{DescriptionPlaintext: "b"}, pipeline.ClassAdded))

	_, err := s.pool.Exec(ctx, `UPDATE servers SET last_pinged = $1 WHERE ip = $2 AND port = $3`,
		time.Now().Add(-48*time.Hour), int64(recentlyActive.IP), int16(recentlyActive.Port))
	require.NoError(t, err)

	_, err = s.pool.Exec(ctx, `UPDATE servers SET last_pinged = $1 WHERE ip = $2 AND port = $3`,
		time.Now().Add(-48*time.Hour), int64(neverActive.IP), int16(neverActive.Port))
	require.NoError(t, err)

	candidates, err := s.RescanCandidates(ctx, strategies.RescanWindow{
		RescanEvery:         24 * time.Hour,
		LastPingAgoMax:      7 * 24 * time.Hour,
		Sort:                strategies.SortOldest,
		PlayersOnlineAgoMax: time.Hour,
	})
	require.NoError(t, err)

	assert.Contains(t, candidates, recentlyActive)
	assert.NotContains(t, candidates, neverActive, "server with no recorded last_active should be filtered out")
}

func TestRescanCandidatesAppliesFilterSQL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := targets.Addr{IP: 20, Port: 25565}
	b := targets.Addr{IP: 21, Port: 19132}
	require.NoError(t, s.UpsertServer(ctx, a, &mcping.PingResponse{DescriptionPlaintext: "a"}, pipeline.ClassAdded))
	require.NoError(t, s.UpsertServer(ctx, b, &mcping.PingResponse{DescriptionPlaintext: "b"}, pipeline.ClassAdded))

	for _, addr := range []targets.Addr{a, b} {
		_, err := s.pool.Exec(ctx, `UPDATE servers SET last_pinged = $1 WHERE ip = $2 AND port = $3`,
			time.Now().Add(-48*time.Hour), int64(addr.IP), int16(addr.Port))
		require.NoError(t, err)
	}

	candidates, err := s.RescanCandidates(ctx, strategies.RescanWindow{
		RescanEvery:    24 * time.Hour,
		LastPingAgoMax: 7 * 24 * time.Hour,
		Sort:           strategies.SortOldest,
		FilterSQL:      "port = 25565",
	})
	require.NoError(t, err)

	assert.Contains(t, candidates, a)
	assert.NotContains(t, candidates, b)
}

func TestTrimSpamHistoricalPlayersKeepsOnlyMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addr := targets.Addr{IP: 3, Port: 25565}
	require.NoError(t, s.UpsertServer(ctx, addr, &mcping.PingResponse{DescriptionPlaintext: "a"}, pipeline.ClassAdded))

	for i := 0; i < allowedPlayerLimit+10; i++ {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO server_players (server_ip, server_port, uuid, username, first_seen, last_seen)
			VALUES ($1, $2, $3, $4, now(), now() - ($5 || ' seconds')::interval)
		`, int64(addr.IP), int16(addr.Port), uuid.New(), "player", i)
		require.NoError(t, err)
	}

	require.NoError(t, s.trimSpamHistoricalPlayers(ctx))

	var count int
	require.NoError(t, s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM server_players WHERE server_ip = $1 AND server_port = $2`,
		int64(addr.IP), int16(addr.Port)).Scan(&count))

	assert.Equal(t, keepPlayerCount, count)
}
