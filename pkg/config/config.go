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

// Package config loads matscan's TOML configuration file and fills in the
// operator-facing defaults (sleep interval, scan duration, ping timeout)
// documented alongside each field.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mat-scan/matscan/pkg/logger"
	"github.com/mat-scan/matscan/pkg/strategy"
)

var (
	ErrPostgresURIRequired     = errors.New("config: postgres_uri is required")
	ErrRateRequired            = errors.New("config: rate must be > 0")
	ErrUnknownStrategy         = errors.New("config: unknown strategy name")
	ErrTooManyRescans          = errors.New("config: at most 5 rescan entries are supported")
	ErrSnipeWebhookURLRequired = errors.New("config: snipe.webhook_url is required when snipe.enabled is true")
)

const maxRescanConfigs = 5

// SourcePort is the TOML shape for session.SourcePort: a table holding
// either a fixed `port` or a `min`/`max` range. A bare number
// (`source_port = 61000`) does not decode into it.
type SourcePort struct {
	Port uint16 `toml:"port"`
	Min  uint16 `toml:"min"`
	Max  uint16 `toml:"max"`
}

// Target is the handshake identity presented to every server this process
// probes.
type Target struct {
	Addr            string `toml:"addr"`
	Port            uint16 `toml:"port"`
	ProtocolVersion int32  `toml:"protocol_version"`
}

// Scanner toggles the Normal category and optionally restricts which
// strategies it may pick from.
type Scanner struct {
	Enabled    bool     `toml:"enabled"`
	Strategies []string `toml:"strategies"`
}

// Rescan is one of up to five independently-scheduled rescan windows.
type Rescan struct {
	Enabled            bool  `toml:"enabled"`
	RescanEverySecs    int64 `toml:"rescan_every_secs"`
	LastPingAgoMaxSecs int64 `toml:"last_ping_ago_max_secs"`
	// PlayersOnlineAgoMaxSecs, if nonzero, additionally restricts this
	// window to servers that have had a player online within this long.
	PlayersOnlineAgoMaxSecs int64 `toml:"players_online_ago_max_secs"`
	Limit                   int   `toml:"limit"`
	// FilterSQL is ANDed verbatim into the rescan candidate query.
	// Operator-trusted: this is a config file value, never user input.
	FilterSQL string `toml:"filter_sql"`
	Sort      string `toml:"sort"`
	Padded    bool   `toml:"padded"`
}

// Fingerprinting toggles the active-fingerprinting category.
type Fingerprinting struct {
	Enabled bool `toml:"enabled"`
}

// Snipe is the player-watch notification policy.
type Snipe struct {
	Enabled     bool     `toml:"enabled"`
	WebhookURL  string   `toml:"webhook_url"`
	Usernames   []string `toml:"usernames"`
	AnonPlayers bool     `toml:"anon_players"`
}

// Debug holds knobs only useful when developing or reproducing a bug, never
// flipped on in production.
type Debug struct {
	ExitOnDone     bool    `toml:"exit_on_done"`
	OnlyScanAddr   string  `toml:"only_scan_addr"`
	SimulateRxLoss float64 `toml:"simulate_rx_loss"`
	SimulateTxLoss float64 `toml:"simulate_tx_loss"`
}

// Config is the complete set of operator-facing knobs, loaded once at
// startup from a single TOML file.
type Config struct {
	PostgresURI      string     `toml:"postgres_uri"`
	Rate             uint64     `toml:"rate"`
	SleepSecs        int64      `toml:"sleep_secs"`
	SourcePort       SourcePort `toml:"source_port"`
	ScanDurationSecs int64      `toml:"scan_duration_secs"`
	PingTimeoutSecs  int64      `toml:"ping_timeout_secs"`
	Target           Target     `toml:"target"`
	Scanner          Scanner    `toml:"scanner"`
	// Rescan holds up to 5 independently-scheduled rescan windows,
	// configured as repeated [[rescan]] TOML tables.
	Rescan             []Rescan       `toml:"rescan"`
	Fingerprinting     Fingerprinting `toml:"fingerprinting"`
	Snipe              Snipe          `toml:"snipe"`
	AliasedAllowedPort uint16         `toml:"aliased_allowed_port"`
	ExcludeFile        string         `toml:"exclude_file"`
	LoggingDir         string         `toml:"logging_dir"`
	Debug              Debug          `toml:"debug"`
	Logging            *logger.Config `toml:"logging"`
}

const (
	defaultSleepSecs        = 10
	defaultScanDurationSecs = 300
	defaultPingTimeoutSecs  = 60
	defaultAliasedPort      = 25565
)

// Load reads and parses path, applying defaults and validating the
// fields that have no sane default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SleepSecs == 0 {
		c.SleepSecs = defaultSleepSecs
	}

	if c.ScanDurationSecs == 0 {
		c.ScanDurationSecs = defaultScanDurationSecs
	}

	if c.PingTimeoutSecs == 0 {
		c.PingTimeoutSecs = defaultPingTimeoutSecs
	}

	if c.AliasedAllowedPort == 0 {
		c.AliasedAllowedPort = defaultAliasedPort
	}

	if c.Target.Port == 0 {
		c.Target.Port = defaultAliasedPort
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}
}

func (c *Config) validate() error {
	if c.PostgresURI == "" {
		return ErrPostgresURIRequired
	}

	if c.Rate == 0 {
		return ErrRateRequired
	}

	if len(c.Rescan) > maxRescanConfigs {
		return ErrTooManyRescans
	}

	for _, name := range c.Scanner.Strategies {
		if !isKnownStrategy(strategy.Name(name)) {
			return fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}
	}

	if c.Snipe.Enabled && c.Snipe.WebhookURL == "" {
		return ErrSnipeWebhookURLRequired
	}

	return nil
}

func isKnownStrategy(name strategy.Name) bool {
	for _, known := range strategy.All {
		if known == name {
			return true
		}
	}

	return false
}

// ScanDuration returns the configured sender deadline as a time.Duration.
func (c *Config) ScanDuration() time.Duration {
	return time.Duration(c.ScanDurationSecs) * time.Second
}

// PingTimeout returns the configured per-flow purge age as a time.Duration.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSecs) * time.Second
}

// SleepInterval returns the configured inter-cycle sleep as a time.Duration.
func (c *Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepSecs) * time.Second
}

// tomlDenyList is the set of keys SanitizeTOML strips before a loaded
// config is ever logged: the database DSN and the webhook URL both
// routinely carry embedded credentials.
var tomlDenyList = []TOMLPath{
	{Table: "", Key: "postgres_uri"},
	{Table: "snipe", Key: "webhook_url"},
}

// Redacted returns cfg's original TOML text with secret-bearing keys
// stripped, suitable for logging at startup.
func Redacted(raw []byte) []byte {
	return SanitizeTOML(raw, tomlDenyList)
}
