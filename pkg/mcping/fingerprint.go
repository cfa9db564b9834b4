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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PassiveFingerprint captures how closely a status response's JSON field
// order matches vanilla Mojang server software. Forks and proxies tend to
// re-serialize the response in a different field order (different struct
// definitions, different serialization libraries), which is a useful
// distinguishing signal even though it's never sent intentionally.
type PassiveFingerprint struct {
	// IncorrectOrder is true if the top-level fields, the players
	// object's fields, or the version object's fields deviate from the
	// vanilla order.
	IncorrectOrder bool
	// FieldOrder records the observed top-level order (with nested
	// players/version orders inlined) when IncorrectOrder is true.
	FieldOrder string
	// EmptySample is true when "players.sample" is present but an empty
	// array: vanilla omits the field entirely when there are no online
	// players or a sample cap of zero.
	EmptySample bool
	// EmptyFavicon is true when "favicon" is present but the empty
	// string, which no real server implementation sends.
	EmptyFavicon bool
}

// releaseOrderCutoff and snapshotOrderCutoff are the lowest release and
// snapshot protocol versions using the post-23w07a/1.19.4 field order (version, description, players). Snapshot
// protocol versions occupy a separate high range starting at 0x40000000;
// 1073741943 is the first snapshot release using the new order, and 762 is
// 1.19.4 itself.
const (
	snapshotOrderCutoff = 1073741943
	releaseOrderCutoff  = 762
	snapshotRangeStart  = 0x40000000
)

func usesPostReorderFieldOrder(protocolVersion int64) bool {
	if protocolVersion >= snapshotOrderCutoff {
		return true
	}

	return protocolVersion >= releaseOrderCutoff && protocolVersion <= snapshotRangeStart
}

// generatePassiveFingerprint inspects the raw status JSON's key order
// without fully decoding it, since Go's encoding/json map values discard
// order.
func generatePassiveFingerprint(data []byte) (PassiveFingerprint, error) {
	topKeys, topValues, err := objectKeyOrder(data)
	if err != nil {
		return PassiveFingerprint{}, err
	}

	var protocolVersion int64

	if raw, ok := topValues["version"]; ok {
		var version struct {
			Protocol int64 `json:"protocol"`
		}

		_ = json.Unmarshal(raw, &version)
		protocolVersion = version.Protocol
	}

	emptyFavicon := false

	if raw, ok := topValues["favicon"]; ok {
		var favicon string
		if json.Unmarshal(raw, &favicon) == nil && favicon == "" {
			emptyFavicon = true
		}
	}

	correctOrder := []string{"description", "players", "version"}
	if usesPostReorderFieldOrder(protocolVersion) {
		correctOrder = []string{"version", "description", "players"}
	}

	keys := filterKeys(topKeys, correctOrder)

	correctPlayersOrder := []string{"max", "online"}
	correctVersionOrder := []string{"name", "protocol"}

	var playersKeys, versionKeys []string

	if raw, ok := topValues["players"]; ok {
		nestedKeys, _, nestedErr := objectKeyOrder(raw)
		if nestedErr == nil {
			playersKeys = filterKeys(nestedKeys, correctPlayersOrder)
		}
	}

	if raw, ok := topValues["version"]; ok {
		nestedKeys, _, nestedErr := objectKeyOrder(raw)
		if nestedErr == nil {
			versionKeys = filterKeys(nestedKeys, correctVersionOrder)
		}
	}

	incorrectOrder := !equalStrings(keys, correctOrder) ||
		!equalStrings(playersKeys, correctPlayersOrder) ||
		!equalStrings(versionKeys, correctVersionOrder)

	fp := PassiveFingerprint{
		IncorrectOrder: incorrectOrder,
		EmptyFavicon:   emptyFavicon,
	}

	if incorrectOrder {
		fp.FieldOrder = describeFieldOrder(keys, playersKeys, correctPlayersOrder, versionKeys, correctVersionOrder)
	}

	if raw, ok := topValues["players"]; ok {
		var players struct {
			Sample []json.RawMessage `json:"sample"`
		}

		if json.Unmarshal(raw, &players) == nil && players.Sample != nil && len(players.Sample) == 0 {
			fp.EmptySample = true
		}
	}

	return fp, nil
}

func describeFieldOrder(keys, playersKeys, correctPlayersOrder, versionKeys, correctVersionOrder []string) string {
	var b strings.Builder

	for i, key := range keys {
		b.WriteString(key)

		switch {
		case key == "players" && !equalStrings(playersKeys, correctPlayersOrder):
			fmt.Fprintf(&b, "(%s)", strings.Join(playersKeys, ","))
		case key == "version" && !equalStrings(versionKeys, correctVersionOrder):
			fmt.Fprintf(&b, "(%s)", strings.Join(versionKeys, ","))
		}

		if i != len(keys)-1 {
			b.WriteByte(',')
		}
	}

	return b.String()
}

func filterKeys(keys, allowed []string) []string {
	out := make([]string, 0, len(keys))

	for _, k := range keys {
		if contains(allowed, k) {
			out = append(out, k)
		}
	}

	return out
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}

	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// objectKeyOrder returns the top-level keys of a JSON object in the order
// they appear on the wire, along with each key's raw value, by walking the
// token stream rather than decoding into a map.
func objectKeyOrder(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("mcping: expected JSON object")
	}

	var keys []string

	values := make(map[string]json.RawMessage)

	for dec.More() {
		keyTok, keyErr := dec.Token()
		if keyErr != nil {
			return nil, nil, keyErr
		}

		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("mcping: expected string key")
		}

		var raw json.RawMessage
		if decodeErr := dec.Decode(&raw); decodeErr != nil {
			return nil, nil, decodeErr
		}

		keys = append(keys, key)
		values[key] = raw
	}

	return keys, values, nil
}
