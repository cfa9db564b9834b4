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
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS servers (
	ip                      bigint      NOT NULL,
	port                    smallint    NOT NULL,
	first_pinged            timestamptz NOT NULL,
	last_pinged             timestamptz NOT NULL,
	last_active             timestamptz,
	description_json        text        NOT NULL DEFAULT '',
	description_plaintext   text        NOT NULL DEFAULT '',
	version_name            text,
	version_protocol        integer,
	favicon_hash            bytea,
	online_players          integer,
	max_players             integer,
	is_online_mode          boolean,
	is_fake_sample          boolean     NOT NULL DEFAULT false,
	enforces_secure_chat    boolean,
	previews_chat           boolean,
	prevents_chat_reports   boolean,
	forge_fml_network_ver   integer,
	modinfo_type            text,
	is_modded               boolean,
	modpack_project_id      integer,
	modpack_name            text,
	modpack_version         text,
	fingerprint_incorrect   boolean     NOT NULL DEFAULT false,
	fingerprint_field_order text        NOT NULL DEFAULT '',
	fingerprint_empty_sample  boolean   NOT NULL DEFAULT false,
	fingerprint_empty_favicon boolean   NOT NULL DEFAULT false,
	detected_software       text,
	PRIMARY KEY (ip, port)
);

CREATE TABLE IF NOT EXISTS favicons (
	hash bytea PRIMARY KEY,
	data text NOT NULL
);

CREATE TABLE IF NOT EXISTS server_players (
	server_ip   bigint      NOT NULL,
	server_port smallint    NOT NULL,
	uuid        uuid        NOT NULL,
	username    text        NOT NULL,
	online_mode boolean,
	first_seen  timestamptz NOT NULL,
	last_seen   timestamptz NOT NULL,
	PRIMARY KEY (server_ip, server_port, uuid)
);

CREATE INDEX IF NOT EXISTS server_players_last_seen_idx
	ON server_players (server_ip, server_port, last_seen);

CREATE TABLE IF NOT EXISTS ips_with_aliased_servers (
	ip           bigint   PRIMARY KEY,
	allowed_port smallint NOT NULL
);
`

// EnsureSchema creates every table this package needs if it doesn't already
// exist. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	return nil
}
