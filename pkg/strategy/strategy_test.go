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

package strategy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPickerDefaultsMissingStrategies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")

	p := NewPicker(path)

	for _, name := range All {
		assert.Equal(t, defaultFound, p.Score(name))
	}
}

func TestPickFallsBackToSlash0WhenAllUntried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	p := NewPicker(path)

	assert.Equal(t, Slash0, p.Pick(nil))
}

func TestPickExploitsHighestScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	p := NewPicker(path)
	p.randSrc.Seed(1) // deterministic, but exploration is also handled below

	require.NoError(t, p.Update(Slash24a, 500))
	require.NoError(t, p.Update(Slash16a, 10))

	// Force exploitation path by picking many times and checking the
	// highest scorer wins the overwhelming majority.
	counts := map[Name]int{}

	for i := 0; i < 500; i++ {
		counts[p.Pick([]Name{Slash24a, Slash16a})]++
	}

	assert.Greater(t, counts[Slash24a], counts[Slash16a])
}

func TestUpdatePersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	p := NewPicker(path)

	require.NoError(t, p.Update(Slash0, 42))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded map[string]int
	require.NoError(t, json.Unmarshal(raw, &loaded))
	assert.Equal(t, 42, loaded["Slash0"])
}

func TestNewPickerLoadsExistingScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Slash0": 7}`), 0o600))

	p := NewPicker(path)
	assert.Equal(t, 7, p.Score(Slash0))
	assert.Equal(t, defaultFound, p.Score(Slash32))
}

func TestComputeScoreWeightsDefaultPortHigher(t *testing.T) {
	plain := ComputeScore(10, 0, 0, time.Hour)
	onDefault := ComputeScore(10, 1, 0, time.Hour)

	assert.Greater(t, onDefault, plain)
}

func TestComputeScoreNormalizesToHourlyRate(t *testing.T) {
	oneHour := ComputeScore(3600, 0, 0, time.Hour)
	twoHours := ComputeScore(3600, 0, 0, 2*time.Hour)

	assert.Greater(t, oneHour, twoHours)
}

func TestComputeScoreZero(t *testing.T) {
	assert.Equal(t, 0, ComputeScore(0, 0, 0, time.Minute))
}
