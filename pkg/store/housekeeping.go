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
)

// allowedPlayerLimit and keepPlayerCount are ported verbatim: a server
// whose player_players history grows past allowedPlayerLimit rows (some
// servers cycle through thousands of distinct bot/alt accounts) gets
// trimmed back down to its keepPlayerCount most-recently-seen rows.
const (
	allowedPlayerLimit = 1000
	keepPlayerCount    = 500

	housekeepingInterval = 4 * time.Hour
)

type serverKey struct {
	ip   int64
	port int16
}

// RunHousekeeping runs trimSpamHistoricalPlayers every 4h until ctx is
// cancelled.
func (s *Store) RunHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.trimSpamHistoricalPlayers(ctx); err != nil {
				s.log.Warn().Err(err).Msg("failed to trim spam historical players")
			}
		}
	}
}

func (s *Store) trimSpamHistoricalPlayers(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT server_ip, server_port
		FROM server_players
		GROUP BY server_ip, server_port
		HAVING COUNT(*) > $1
	`, allowedPlayerLimit)
	if err != nil {
		return fmt.Errorf("%w: find over-limit servers: %w", ErrFailedToQuery, err)
	}

	var overLimit []serverKey

	for rows.Next() {
		var k serverKey
		if err := rows.Scan(&k.ip, &k.port); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scanning over-limit server: %w", ErrFailedToQuery, err)
		}

		overLimit = append(overLimit, k)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	for _, k := range overLimit {
		if err := s.trimOneServer(ctx, k); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) trimOneServer(ctx context.Context, k serverKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM server_players
		WHERE server_ip = $1 AND server_port = $2
		  AND ctid NOT IN (
			SELECT ctid FROM server_players
			WHERE server_ip = $1 AND server_port = $2
			ORDER BY last_seen DESC
			LIMIT $3
		  )
	`, k.ip, k.port, keepPlayerCount)
	if err != nil {
		return fmt.Errorf("%w: trim server %d:%d: %w", ErrFailedToUpsert, k.ip, k.port, err)
	}

	return nil
}
