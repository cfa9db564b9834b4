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

package mcping

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strings"

	"github.com/google/uuid"
)

// anonymousPlayerName is the nil-UUID placeholder some servers (and this
// scanner's own sample-fakery detection) use for a player slot that
// carries no real identity.
const anonymousPlayerName = "Anonymous Player"

// ErrNotAMinecraftServer means the response parsed as JSON but carried
// none of description, version, or players: probably some other
// TCP-speaking service that happened to answer on this port.
var ErrNotAMinecraftServer = errors.New("mcping: response has no minecraft fields")

// SamplePlayer is one entry of the status response's player sample list.
type SamplePlayer struct {
	Name string
	UUID uuid.UUID
}

// PingResponse is the parsed, sanitized form of a status response, ready
// to persist or run through the anti-abuse filter.
type PingResponse struct {
	DescriptionJSON      string
	DescriptionPlaintext string

	VersionName     *string
	VersionProtocol *int32

	Favicon     *string
	FaviconHash *[16]byte

	OnlinePlayers *int32
	MaxPlayers    *int32
	IsOnlineMode  *bool
	PlayerSample  []SamplePlayer
	// IsFakeSample is true when the sample list looks synthetic (missing
	// names/uuids, duplicate uuids, or version mismatches) and shouldn't
	// be trusted for historical-player bookkeeping.
	IsFakeSample bool

	EnforcesSecureChat *bool
	PreviewsChat       *bool

	Fingerprint PassiveFingerprint

	// Non-vanilla fields, present only on modded/proxied servers.
	PreventsChatReports        *bool
	ForgeDataFMLNetworkVersion *int32
	ModInfoType                *string
	IsModded                   *bool
	ModpackDataProjectID       *int32
	ModpackDataName            *string
	ModpackDataVersion         *string
}

type rawStatusResponse struct {
	Description json.RawMessage `json:"description"`
	Version     *struct {
		Name     *string `json:"name"`
		Protocol *int32  `json:"protocol"`
	} `json:"version"`
	Favicon *string `json:"favicon"`
	Players *struct {
		Online *int32 `json:"online"`
		Max    *int32 `json:"max"`
		Sample []struct {
			Name *string `json:"name"`
			ID   *string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
	PreviewsChat       *bool `json:"previewsChat"`
	EnforcesSecureChat *bool `json:"enforcesSecureChat"`

	PreventsChatReports *bool `json:"preventsChatReports"`
	ForgeData           *struct {
		FMLNetworkVersion *int32 `json:"fmlNetworkVersion"`
	} `json:"forgeData"`
	ModInfo *struct {
		Type *string `json:"type"`
	} `json:"modinfo"`
	IsModded    *bool `json:"isModded"`
	ModpackData *struct {
		ProjectID *int32  `json:"projectID"`
		Name      *string `json:"name"`
		Version   *string `json:"version"`
	} `json:"modpackData"`
}

// ParsePingResponseJSON parses and sanitizes a status response's raw JSON
// body into a PingResponse.
func ParsePingResponseJSON(data []byte) (PingResponse, error) {
	sanitized := sanitizeTextForPostgres(string(data))

	fingerprint, err := generatePassiveFingerprint([]byte(sanitized))
	if err != nil {
		return PingResponse{}, fmt.Errorf("mcping: %w", err)
	}

	var raw rawStatusResponse
	if err := json.Unmarshal([]byte(sanitized), &raw); err != nil {
		return PingResponse{}, fmt.Errorf("mcping: failed to parse JSON: %w", err)
	}

	if raw.Description == nil && raw.Version == nil && raw.Players == nil {
		// Some servers omit one of these fields (even description isn't
		// technically required), but missing all three means this
		// almost certainly isn't a Minecraft server at all.
		return PingResponse{}, ErrNotAMinecraftServer
	}

	descriptionJSON := sanitizeTextForPostgres(string(raw.Description))
	descriptionPlaintext := sanitizeTextForPostgres(plaintextFromChatComponent(raw.Description))

	r := PingResponse{
		DescriptionJSON:      descriptionJSON,
		DescriptionPlaintext: descriptionPlaintext,
		Fingerprint:          fingerprint,
		PreviewsChat:         raw.PreviewsChat,
		EnforcesSecureChat:   raw.EnforcesSecureChat,
		PreventsChatReports:  raw.PreventsChatReports,
		IsModded:             raw.IsModded,
	}

	if raw.Version != nil {
		r.VersionName = sanitizedPtr(raw.Version.Name)
		r.VersionProtocol = raw.Version.Protocol
	}

	if raw.Favicon != nil {
		favicon := sanitizeTextForPostgres(*raw.Favicon)
		if strings.HasPrefix(favicon, "data:image/png;base64,") {
			r.Favicon = &favicon
			hash := makeFaviconHash(favicon)
			r.FaviconHash = &hash
		}
	}

	if raw.ForgeData != nil {
		r.ForgeDataFMLNetworkVersion = raw.ForgeData.FMLNetworkVersion
	}

	if raw.ModInfo != nil {
		r.ModInfoType = sanitizedPtr(raw.ModInfo.Type)
	}

	if raw.ModpackData != nil {
		r.ModpackDataProjectID = raw.ModpackData.ProjectID
		r.ModpackDataName = sanitizedPtr(raw.ModpackData.Name)
		r.ModpackDataVersion = sanitizedPtr(raw.ModpackData.Version)
	}

	if raw.Players != nil {
		r.OnlinePlayers = raw.Players.Online
		r.MaxPlayers = raw.Players.Max
		r.PlayerSample, r.IsOnlineMode, r.IsFakeSample = parsePlayerSample(raw.Players.Sample, descriptionPlaintext)
	}

	return r, nil
}

// privacyNoticeMOTD is a description some servers use specifically to
// defeat scanning: they randomize the player sample on every ping to hide
// real occupancy, so any sample seen under it can't be trusted.
const privacyNoticeMOTD = "To protect the privacy of this server and its\nusers, you must log in once to see ping data."

func parsePlayerSample(sample []struct {
	Name *string `json:"name"`
	ID   *string `json:"id"`
}, descriptionPlaintext string,
) ([]SamplePlayer, *bool, bool) {
	isFakeSample := descriptionPlaintext == privacyNoticeMOTD

	var isOnlineMode *bool

	seenUUIDs := make(map[uuid.UUID]bool, len(sample))

	players := make([]SamplePlayer, 0, len(sample))

	for _, entry := range sample {
		if entry.Name == nil {
			isFakeSample = true
			continue
		}

		name := sanitizeTextForPostgres(*entry.Name)

		if entry.ID == nil {
			isFakeSample = true
			continue
		}

		id, err := uuid.Parse(*entry.ID)
		if err != nil {
			isFakeSample = true
			continue
		}

		if seenUUIDs[id] {
			isFakeSample = true
			continue
		}

		seenUUIDs[id] = true

		switch {
		case id.Version() == 4:
			online := true
			isOnlineMode = &online
		case id.Version() == 3:
			if isOnlineMode == nil {
				offline := false
				isOnlineMode = &offline
			}
		case id == uuid.Nil && name == anonymousPlayerName:
			// Anonymous placeholder: carries no online-mode signal.
		default:
			isFakeSample = true
		}

		players = append(players, SamplePlayer{Name: name, UUID: id})
	}

	return players, isOnlineMode, isFakeSample
}

func sanitizedPtr(s *string) *string {
	if s == nil {
		return nil
	}

	sanitized := sanitizeTextForPostgres(*s)

	return &sanitized
}

// sanitizeTextForPostgres strips NUL bytes, which Postgres' text codec
// rejects outright.
func sanitizeTextForPostgres(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func makeFaviconHash(favicon string) [16]byte {
	sum := sha256.Sum256([]byte(favicon))

	var hash [16]byte

	copy(hash[:], sum[:16])

	return hash
}

// responseHash summarizes the fields that determine whether two servers'
// responses are suspiciously identical, for the aliased-IP detector. It
// doesn't need cryptographic strength, just a low collision rate and
// stability across runs, so it uses FNV-1a rather than a seeded hasher.
func responseHash(r *PingResponse) uint64 {
	h := fnv.New64a()

	writeHashField(h, r.DescriptionPlaintext)

	if r.VersionName != nil {
		writeHashField(h, *r.VersionName)
	} else {
		writeHashField(h, "")
	}

	writeHashInt(h, int64(derefInt32(r.VersionProtocol)))
	writeHashInt(h, int64(derefInt32(r.MaxPlayers)))

	return h.Sum64()
}

func writeHashField(h io.Writer, s string) {
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte{0})
}

func writeHashInt(h io.Writer, v int64) {
	_, _ = h.Write([]byte(fmt.Sprintf("%d", v)))
	_, _ = h.Write([]byte{0})
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}

	return *p
}

// ResponseHash exports responseHash for the aliased-IP detector, which
// lives outside this package.
func ResponseHash(r *PingResponse) uint64 {
	return responseHash(r)
}
