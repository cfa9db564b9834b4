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

// Package store is the Postgres persistence layer: the servers,
// server_players, favicons, and ips_with_aliased_servers tables, plus the
// periodic spam-player trim housekeeping task.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NewPool dials postgresURI and returns a ready pgx connection pool.
// postgresURI is a standard libpq connection string (postgres://...);
// sslmode and every other connection option is set there, not in code —
// TLS support is opportunistic, not a feature this package implements.
func NewPool(ctx context.Context, postgresURI string, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresURI)
	if err != nil {
		return nil, fmt.Errorf("store: failed to parse postgres_uri: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: failed to initialize pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: failed to reach postgres: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Uint16("port", poolConfig.ConnConfig.Port).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("connected to postgres")

	return pool, nil
}
