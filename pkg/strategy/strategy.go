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

// Package strategy implements a self-tuning, persistent bandit over the
// available sampling strategies: each cycle, mostly exploit whichever
// strategy found the most new servers last time it ran, occasionally
// explore a random one, and remember every strategy's latest score across
// restarts.
package strategy

import (
	"encoding/json"
	"math/rand"
	"os"
	"time"
)

// Name identifies one sampling strategy. The concrete strategies live in
// package strategies; this package only needs their names to keep score.
type Name string

const (
	Slash0                 Name = "Slash0"
	Slash16a               Name = "Slash16a"
	Slash16b               Name = "Slash16b"
	Slash24a               Name = "Slash24a"
	Slash24b               Name = "Slash24b"
	Slash24c               Name = "Slash24c"
	Slash32                Name = "Slash32"
	Rescan1Day             Name = "Rescan1day"
	Rescan7Days            Name = "Rescan7days"
	Rescan30Days           Name = "Rescan30days"
	Rescan365Days          Name = "Rescan365days"
	RescanOlderThan365Days Name = "RescanOlderThan365days"
)

// All lists every strategy the picker scores.
var All = []Name{
	Slash0, Slash16a, Slash16b, Slash24a, Slash24b, Slash24c, Slash32,
	Rescan1Day, Rescan7Days, Rescan30Days, Rescan365Days, RescanOlderThan365Days,
}

// defaultFound seeds every strategy's score high so each one gets tried at
// least once before the picker starts exploiting; using the real max int
// would break a weighted random choice if one were introduced later, so a
// large-but-finite sentinel is used instead, matching the original's
// DEFAULT_FOUND.
const defaultFound = 1_000_000

const explorationRate = 0.01

// Picker tracks each strategy's most recent "new servers found" score and
// persists it to disk so restarts don't forget what worked.
type Picker struct {
	path    string
	scores  map[Name]int
	randSrc *rand.Rand
}

// NewPicker loads scores from path (JSON: {"Slash0": 1234, ...}), defaulting
// any strategy missing from the file — including on first run, when the
// file doesn't exist at all — to defaultFound.
func NewPicker(path string) *Picker {
	p := &Picker{
		path:    path,
		scores:  make(map[Name]int, len(All)),
		randSrc: rand.New(rand.NewSource(rand.Int63())), //nolint:gosec // strategy selection, not security-sensitive
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var loaded map[string]int
		if jsonErr := json.Unmarshal(raw, &loaded); jsonErr == nil {
			for name, score := range loaded {
				p.scores[Name(name)] = score
			}
		}
	}

	for _, name := range All {
		if _, ok := p.scores[name]; !ok {
			p.scores[name] = defaultFound
		}
	}

	return p
}

// Pick chooses a strategy to run next, optionally restricted to candidates.
// With 1% probability it explores a uniformly random candidate; otherwise
// it exploits the highest-scoring one. If every candidate is either
// unscored (still at defaultFound) or has found nothing yet, it starts with
// Slash0 so an empty database doesn't crash a rescan strategy that assumes
// prior data exists.
func (p *Picker) Pick(candidates []Name) Name {
	if candidates == nil {
		candidates = All
	}

	allZeroOrUntried := true

	for _, name := range candidates {
		score := p.scores[name]
		if score != 0 && score != defaultFound {
			allZeroOrUntried = false
			break
		}
	}

	if allZeroOrUntried {
		return Slash0
	}

	if p.randSrc.Float64() < explorationRate {
		return candidates[p.randSrc.Intn(len(candidates))]
	}

	best := Slash0
	bestScore := -1

	for _, name := range candidates {
		if score := p.scores[name]; score > bestScore {
			bestScore = score
			best = name
		}
	}

	return best
}

// Update records how many new servers the last run of name found and
// persists the full score table.
func (p *Picker) Update(name Name, foundCount int) error {
	p.scores[name] = foundCount

	out := make(map[string]int, len(p.scores))
	for name, score := range p.scores {
		out[string(name)] = score
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(p.path, raw, 0o644)
}

// Score returns the currently recorded score for name, for diagnostics.
func (p *Picker) Score(name Name) int {
	return p.scores[name]
}

// settleSeconds is added to elapsed before normalizing to an hourly rate,
// so a cycle that happened to run very briefly doesn't produce an
// implausibly large score.
const settleSeconds = 30

// ComputeScore turns one cycle's outcome into the normalized, comparable
// score Update expects: new servers count for 1 point each, a new server
// found on the default port counts extra (discovering the canonical
// address of a popular server is worth more than an obscure alt port),
// and revived servers count for a tenth of a point, all scaled to an
// hourly rate so cycles of different lengths stay comparable.
func ComputeScore(newFound, newOnDefaultPort, revived int, elapsed time.Duration) int {
	weighted := float64(newFound) + float64(newOnDefaultPort)*50 + float64(revived)*0.1
	perHour := weighted * 3600 / (elapsed.Seconds() + settleSeconds)

	return int(perHour + 0.5)
}
