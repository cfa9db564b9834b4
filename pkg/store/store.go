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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/strategies"
	"github.com/mat-scan/matscan/pkg/targets"
)

// activeWindow bounds strategies.KnownServerStore.ActiveServers: a server
// that hasn't answered in over a year is dropped from neighborhood-expansion
// strategies as effectively dead.
const activeWindow = 365 * 24 * time.Hour

// Store is the Postgres-backed implementation of every persistence
// collaborator the rest of the module needs: strategies.KnownServerStore,
// pipeline.Store, and mcping.HistoricalAnonChecker.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var (
	_ strategies.KnownServerStore  = (*Store)(nil)
	_ pipeline.Store               = (*Store)(nil)
	_ mcping.HistoricalAnonChecker = (*Store)(nil)
)

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ActiveServers implements strategies.KnownServerStore.
func (s *Store) ActiveServers(ctx context.Context) ([]targets.Addr, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ip, port FROM servers WHERE last_pinged > $1`,
		time.Now().Add(-activeWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: active servers: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanAddrs(rows)
}

// RescanCandidates implements strategies.KnownServerStore.
func (s *Store) RescanCandidates(ctx context.Context, window strategies.RescanWindow) ([]targets.Addr, error) {
	now := time.Now()
	minLastPinged := now.Add(-window.LastPingAgoMax)
	maxLastPinged := now.Add(-window.RescanEvery)

	order := "last_pinged ASC"
	if window.Sort == strategies.SortRandom {
		order = "random()"
	}

	query := `SELECT ip, port FROM servers WHERE last_pinged BETWEEN $1 AND $2`
	args := []any{minLastPinged, maxLastPinged}

	if window.PlayersOnlineAgoMax > 0 {
		args = append(args, now.Add(-window.PlayersOnlineAgoMax))
		query += fmt.Sprintf(" AND last_active > $%d", len(args))
	}

	if window.FilterSQL != "" {
		query += " AND (" + window.FilterSQL + ")"
	}

	query += fmt.Sprintf(" ORDER BY %s", order)

	if window.Limit > 0 {
		args = append(args, window.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: rescan candidates: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanAddrs(rows)
}

func scanAddrs(rows pgx.Rows) ([]targets.Addr, error) {
	var out []targets.Addr

	for rows.Next() {
		var ip int64
		var port int16

		if err := rows.Scan(&ip, &port); err != nil {
			return nil, fmt.Errorf("%w: scanning address row: %w", ErrFailedToQuery, err)
		}

		out = append(out, targets.Addr{IP: uint32(ip), Port: uint16(port)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

// LastPinged implements pipeline.Store.
func (s *Store) LastPinged(ctx context.Context, addr targets.Addr) (time.Time, bool, error) {
	var lastPinged time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT last_pinged FROM servers WHERE ip = $1 AND port = $2`,
		int64(addr.IP), int16(addr.Port)).Scan(&lastPinged)

	switch {
	case err == pgx.ErrNoRows:
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("%w: last pinged: %w", ErrFailedToQuery, err)
	default:
		return lastPinged, true, nil
	}
}

// IsAliasedDrop implements pipeline.Store.
func (s *Store) IsAliasedDrop(ctx context.Context, addr targets.Addr) (bool, error) {
	var allowedPort int16

	err := s.pool.QueryRow(ctx,
		`SELECT allowed_port FROM ips_with_aliased_servers WHERE ip = $1`,
		int64(addr.IP)).Scan(&allowedPort)

	switch {
	case err == pgx.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: aliased drop check: %w", ErrFailedToQuery, err)
	default:
		return addr.Port != uint16(allowedPort), nil
	}
}

// MarkAliased implements pipeline.Store: it records ip as aliased and, in
// the same transaction, deletes every already-persisted row for ip on a
// port other than allowedPort.
func (s *Store) MarkAliased(ctx context.Context, ip uint32, allowedPort uint16) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin mark-aliased tx: %w", ErrFailedToUpsert, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO ips_with_aliased_servers (ip, allowed_port) VALUES ($1, $2)
		 ON CONFLICT (ip) DO UPDATE SET allowed_port = EXCLUDED.allowed_port`,
		int64(ip), int16(allowedPort))
	if err != nil {
		return fmt.Errorf("%w: insert aliased ip: %w", ErrFailedToUpsert, err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM servers WHERE ip = $1 AND port != $2`,
		int64(ip), int16(allowedPort))
	if err != nil {
		return fmt.Errorf("%w: delete non-default-port servers: %w", ErrFailedToUpsert, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit mark-aliased tx: %w", ErrFailedToUpsert, err)
	}

	return nil
}

// HasHistoricalAnonymousPlayer implements mcping.HistoricalAnonChecker.
func (s *Store) HasHistoricalAnonymousPlayer(ctx context.Context, target targets.Addr) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM server_players
			WHERE server_ip = $1 AND server_port = $2 AND username = $3
		)`,
		int64(target.IP), int16(target.Port), anonymousPlayerUsername).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: historical anon player: %w", ErrFailedToQuery, err)
	}

	return exists, nil
}

// anonymousPlayerUsername matches mcping's own placeholder name so the
// historical check and the live sample agree on what "anonymous" means.
const anonymousPlayerUsername = "Anonymous Player"

// AliasedIPRanges implements orchestrator.AliasedIPSource: every IP ever
// marked aliased, as single-address ranges the orchestrator subtracts from
// its scan ranges (re-admitting just the allowed port separately).
func (s *Store) AliasedIPRanges(ctx context.Context) (*targets.Ipv4Ranges, error) {
	rows, err := s.pool.Query(ctx, `SELECT ip FROM ips_with_aliased_servers`)
	if err != nil {
		return nil, fmt.Errorf("%w: aliased ip ranges: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var ranges []targets.Ipv4Range

	for rows.Next() {
		var ip int64
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("%w: scanning aliased ip: %w", ErrFailedToQuery, err)
		}

		ranges = append(ranges, targets.SingleIP(uint32(ip)))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return targets.NewIpv4Ranges(ranges), nil
}

// UpdateDetectedSoftware records the server software an active-fingerprinting
// probe identified for an already-known target. It's a no-op if the target
// has no row yet, since the Fingerprint category only ever targets addresses
// a prior Normal/Rescan cycle already persisted.
func (s *Store) UpdateDetectedSoftware(ctx context.Context, addr targets.Addr, software string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE servers SET detected_software = $1 WHERE ip = $2 AND port = $3`,
		software, int64(addr.IP), int16(addr.Port))
	if err != nil {
		return fmt.Errorf("%w: update detected software: %w", ErrFailedToUpsert, err)
	}

	return nil
}
