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

	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/targets"
)

const upsertServerSQL = `
INSERT INTO servers (
	ip, port, first_pinged, last_pinged, last_active,
	description_json, description_plaintext,
	version_name, version_protocol, favicon_hash,
	online_players, max_players, is_online_mode, is_fake_sample,
	enforces_secure_chat, previews_chat, prevents_chat_reports,
	forge_fml_network_ver, modinfo_type, is_modded,
	modpack_project_id, modpack_name, modpack_version,
	fingerprint_incorrect, fingerprint_field_order,
	fingerprint_empty_sample, fingerprint_empty_favicon
) VALUES (
	$1, $2, $3, $3, $26,
	$4, $5,
	$6, $7, $8,
	$9, $10, $11, $12,
	$13, $14, $15,
	$16, $17, $18,
	$19, $20, $21,
	$22, $23,
	$24, $25
)
ON CONFLICT (ip, port) DO UPDATE SET
	last_pinged               = EXCLUDED.last_pinged,
	last_active               = COALESCE(EXCLUDED.last_active, servers.last_active),
	description_json          = EXCLUDED.description_json,
	description_plaintext     = EXCLUDED.description_plaintext,
	version_name              = EXCLUDED.version_name,
	version_protocol          = EXCLUDED.version_protocol,
	favicon_hash              = EXCLUDED.favicon_hash,
	online_players            = EXCLUDED.online_players,
	max_players               = EXCLUDED.max_players,
	is_online_mode            = EXCLUDED.is_online_mode,
	is_fake_sample            = EXCLUDED.is_fake_sample,
	enforces_secure_chat      = EXCLUDED.enforces_secure_chat,
	previews_chat             = EXCLUDED.previews_chat,
	prevents_chat_reports     = EXCLUDED.prevents_chat_reports,
	forge_fml_network_ver     = EXCLUDED.forge_fml_network_ver,
	modinfo_type              = EXCLUDED.modinfo_type,
	is_modded                 = EXCLUDED.is_modded,
	modpack_project_id        = EXCLUDED.modpack_project_id,
	modpack_name              = EXCLUDED.modpack_name,
	modpack_version           = EXCLUDED.modpack_version,
	fingerprint_incorrect     = EXCLUDED.fingerprint_incorrect,
	fingerprint_field_order   = EXCLUDED.fingerprint_field_order,
	fingerprint_empty_sample  = EXCLUDED.fingerprint_empty_sample,
	fingerprint_empty_favicon = EXCLUDED.fingerprint_empty_favicon
`

const upsertPlayerSQL = `
INSERT INTO server_players (server_ip, server_port, uuid, username, online_mode, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (server_ip, server_port, uuid) DO UPDATE SET
	username    = EXCLUDED.username,
	online_mode = EXCLUDED.online_mode,
	last_seen   = EXCLUDED.last_seen
`

// UpsertServer implements pipeline.Store: it writes resp's server row,
// favicon (by content hash), and player sample, all in one transaction.
// first_pinged is only ever set by the initial INSERT; the ON CONFLICT
// clause never touches it, which is what lets class (logged here, not
// otherwise consulted) stay derived purely from last_pinged rather than
// needing its own column.
func (s *Store) UpsertServer(ctx context.Context, addr targets.Addr, resp *mcping.PingResponse, class pipeline.Classification) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin upsert tx: %w", ErrFailedToUpsert, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now()

	if err := upsertFavicon(ctx, tx, resp); err != nil {
		return err
	}

	var faviconHash []byte
	if resp.FaviconHash != nil {
		faviconHash = resp.FaviconHash[:]
	}

	var lastActive *time.Time
	if resp.OnlinePlayers != nil && *resp.OnlinePlayers > 0 {
		lastActive = &now
	}

	_, err = tx.Exec(ctx, upsertServerSQL,
		int64(addr.IP), int16(addr.Port), now,
		resp.DescriptionJSON, resp.DescriptionPlaintext,
		resp.VersionName, resp.VersionProtocol, faviconHash,
		resp.OnlinePlayers, resp.MaxPlayers, resp.IsOnlineMode, resp.IsFakeSample,
		resp.EnforcesSecureChat, resp.PreviewsChat, resp.PreventsChatReports,
		resp.ForgeDataFMLNetworkVersion, resp.ModInfoType, resp.IsModded,
		resp.ModpackDataProjectID, resp.ModpackDataName, resp.ModpackDataVersion,
		resp.Fingerprint.IncorrectOrder, resp.Fingerprint.FieldOrder,
		resp.Fingerprint.EmptySample, resp.Fingerprint.EmptyFavicon,
		lastActive,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert server row: %w", ErrFailedToUpsert, err)
	}

	if err := upsertPlayerSample(ctx, tx, addr, resp, now); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit upsert tx: %w", ErrFailedToUpsert, err)
	}

	s.log.Debug().
		Str("addr", fmt.Sprintf("%d.%d.%d.%d:%d", byte(addr.IP>>24), byte(addr.IP>>16), byte(addr.IP>>8), byte(addr.IP), addr.Port)).
		Str("classification", string(class)).
		Msg("upserted server")

	return nil
}

func upsertFavicon(ctx context.Context, tx pgx.Tx, resp *mcping.PingResponse) error {
	if resp.FaviconHash == nil || resp.Favicon == nil {
		return nil
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO favicons (hash, data) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING`,
		resp.FaviconHash[:], *resp.Favicon)
	if err != nil {
		return fmt.Errorf("%w: upsert favicon: %w", ErrFailedToUpsert, err)
	}

	return nil
}

func upsertPlayerSample(ctx context.Context, tx pgx.Tx, addr targets.Addr, resp *mcping.PingResponse, now time.Time) error {
	if resp.IsFakeSample || len(resp.PlayerSample) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range resp.PlayerSample {
		batch.Queue(upsertPlayerSQL,
			int64(addr.IP), int16(addr.Port), p.UUID, p.Name, resp.IsOnlineMode, now)
	}

	return sendBatchExecAll(ctx, tx, batch, "server_players upsert")
}
