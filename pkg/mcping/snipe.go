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
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/targets"
)

// Notifier delivers a one-line text notification. Implemented by
// pkg/notify.Webhook; defined here, not there, because the snipe tracker
// is the consumer and Go interfaces belong next to their use.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// SnipeConfig is the operator-facing policy for which username logins to
// announce.
type SnipeConfig struct {
	Enabled     bool
	Usernames   []string
	AnonPlayers bool
}

func (c SnipeConfig) watches(name string) bool {
	for _, u := range c.Usernames {
		if u == name {
			return true
		}
	}

	return false
}

// HistoricalAnonChecker answers whether a target has ever had an
// anonymous-named player in its historical sample, so the "first-ever
// anonymous join" notification only fires once.
type HistoricalAnonChecker interface {
	HasHistoricalAnonymousPlayer(ctx context.Context, target targets.Addr) (bool, error)
}

// SnipeTracker watches player samples across pings and fires webhook
// notifications when a watched username joins or leaves, or when
// anonymous-player activity crosses the configured thresholds.
type SnipeTracker struct {
	cfg      SnipeConfig
	notifier Notifier
	checker  HistoricalAnonChecker
	log      zerolog.Logger

	mu       sync.Mutex
	previous map[targets.Addr][]SamplePlayer
}

// NewSnipeTracker builds a SnipeTracker. checker may be nil if
// cfg.AnonPlayers is false.
func NewSnipeTracker(cfg SnipeConfig, notifier Notifier, checker HistoricalAnonChecker, log zerolog.Logger) *SnipeTracker {
	return &SnipeTracker{
		cfg:      cfg,
		notifier: notifier,
		checker:  checker,
		log:      log,
		previous: make(map[targets.Addr][]SamplePlayer),
	}
}

// Check compares r's player sample against the last one seen for target
// and fires any notifications the change warrants. When snipe.enabled is
// false it returns at once and leaves the cached sample untouched.
func (t *SnipeTracker) Check(ctx context.Context, target targets.Addr, r *PingResponse) {
	if !t.cfg.Enabled {
		return
	}

	t.mu.Lock()
	previous := t.previous[target]
	t.mu.Unlock()

	t.checkWatchedUsernames(ctx, target, previous, r.PlayerSample)

	if t.cfg.AnonPlayers {
		t.checkAnonPlayers(ctx, target, previous, r)
	}

	t.mu.Lock()
	t.previous[target] = r.PlayerSample
	t.mu.Unlock()
}

func (t *SnipeTracker) checkWatchedUsernames(ctx context.Context, target targets.Addr, previous, current []SamplePlayer) {
	currentNames := sampleNames(current)
	previousNames := sampleNames(previous)

	for _, name := range currentNames {
		if !t.cfg.watches(name) {
			continue
		}

		if !containsName(previousNames, name) {
			go t.send(ctx, fmt.Sprintf("%s joined %s:%d", name, ipString(target.IP), target.Port))
		}
	}

	for _, name := range previousNames {
		if t.cfg.watches(name) && !containsName(currentNames, name) {
			go t.send(ctx, fmt.Sprintf("%s left %s:%d", name, ipString(target.IP), target.Port))
		}
	}
}

func (t *SnipeTracker) checkAnonPlayers(ctx context.Context, target targets.Addr, previous []SamplePlayer, r *PingResponse) {
	previousNames := sampleNames(previous)
	currentNames := sampleNames(r.PlayerSample)

	previousAnon := countAnon(previousNames)
	currentAnon := countAnon(currentNames)

	onlinePlayers := derefInt32(r.OnlinePlayers)

	everyOnlinePlayerIsAnon := len(currentNames) > 0
	for _, n := range currentNames {
		if n != anonymousPlayerName {
			everyOnlinePlayerIsAnon = false
			break
		}
	}

	// Some servers run a swarm of bots that leave and join constantly and
	// show up as anonymous players in the sample; don't let that noise
	// trigger a notification.
	tooManyAnonPlayers := currentAnon >= 8 && everyOnlinePlayerIsAnon

	newAnonPlayers := currentAnon - previousAnon
	meetsNewAnonPlayerReq := len(previousNames) > 0 && currentAnon > previousAnon && newAnonPlayers >= 2

	switch {
	case meetsNewAnonPlayerReq && onlinePlayers < 25 && !tooManyAnonPlayers:
		go t.send(ctx, fmt.Sprintf("%d anonymous players joined **%s:%d**", newAnonPlayers, ipString(target.IP), target.Port))
	case previousAnon == 0 && currentAnon > 0 && onlinePlayers < 25:
		go t.notifyFirstAnonPlayer(ctx, target)
	}
}

func (t *SnipeTracker) notifyFirstAnonPlayer(ctx context.Context, target targets.Addr) {
	if t.checker == nil {
		return
	}

	hasHistorical, err := t.checker.HasHistoricalAnonymousPlayer(ctx, target)
	if err != nil {
		t.log.Warn().Err(err).Str("target", fmt.Sprintf("%s:%d", ipString(target.IP), target.Port)).
			Msg("failed to check historical anonymous players")

		return
	}

	if hasHistorical {
		return
	}

	t.send(ctx, fmt.Sprintf("anonymous player joined **%s:%d** for the first time", ipString(target.IP), target.Port))
}

func (t *SnipeTracker) send(ctx context.Context, message string) {
	if t.notifier == nil {
		return
	}

	if err := t.notifier.Send(ctx, message); err != nil {
		t.log.Warn().Err(err).Msg("failed to send snipe webhook")
	}
}

func sampleNames(sample []SamplePlayer) []string {
	names := make([]string, len(sample))
	for i, p := range sample {
		names[i] = p.Name
	}

	return names
}

func countAnon(names []string) int {
	count := 0

	for _, n := range names {
		if n == anonymousPlayerName {
			count++
		}
	}

	return count
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}

func ipString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}
