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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePassiveFingerprintVanillaOrderIsCorrect(t *testing.T) {
	data := `{"description":"hi","players":{"max":20,"online":1},"version":{"name":"1.20.1","protocol":763}}`

	fp, err := generatePassiveFingerprint([]byte(data))
	require.NoError(t, err)
	assert.False(t, fp.IncorrectOrder)
	assert.Empty(t, fp.FieldOrder)
}

func TestGeneratePassiveFingerprintDetectsReorderedFields(t *testing.T) {
	data := `{"version":{"protocol":763,"name":"1.20.1"},"players":{"online":1,"max":20},"description":"hi"}`

	fp, err := generatePassiveFingerprint([]byte(data))
	require.NoError(t, err)
	assert.True(t, fp.IncorrectOrder)
	assert.NotEmpty(t, fp.FieldOrder)
}

func TestGeneratePassiveFingerprintPostReorderCutoff(t *testing.T) {
	// protocol 1073741943 is past the snapshot cutoff, so "version" first
	// is the *correct* order.
	data := `{"version":{"name":"24w05a","protocol":1073741943},"description":"hi","players":{"max":20,"online":1}}`

	fp, err := generatePassiveFingerprint([]byte(data))
	require.NoError(t, err)
	assert.False(t, fp.IncorrectOrder)
}

func TestGeneratePassiveFingerprintEmptySample(t *testing.T) {
	data := `{"description":"hi","players":{"max":20,"online":0,"sample":[]},"version":{"name":"1.20.1","protocol":763}}`

	fp, err := generatePassiveFingerprint([]byte(data))
	require.NoError(t, err)
	assert.True(t, fp.EmptySample)
}

func TestGeneratePassiveFingerprintEmptyFavicon(t *testing.T) {
	data := `{"description":"hi","favicon":""}`

	fp, err := generatePassiveFingerprint([]byte(data))
	require.NoError(t, err)
	assert.True(t, fp.EmptyFavicon)
}

func TestUsesPostReorderFieldOrder(t *testing.T) {
	assert.False(t, usesPostReorderFieldOrder(761))
	assert.True(t, usesPostReorderFieldOrder(762))
	assert.True(t, usesPostReorderFieldOrder(snapshotRangeStart))
	assert.False(t, usesPostReorderFieldOrder(snapshotRangeStart+1))
	assert.True(t, usesPostReorderFieldOrder(snapshotOrderCutoff))
}
