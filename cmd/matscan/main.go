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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-scan/matscan/pkg/config"
	"github.com/mat-scan/matscan/pkg/lifecycle"
	"github.com/mat-scan/matscan/pkg/mcping"
	"github.com/mat-scan/matscan/pkg/notify"
	"github.com/mat-scan/matscan/pkg/orchestrator"
	"github.com/mat-scan/matscan/pkg/pipeline"
	"github.com/mat-scan/matscan/pkg/rawnet"
	"github.com/mat-scan/matscan/pkg/session"
	"github.com/mat-scan/matscan/pkg/store"
	"github.com/mat-scan/matscan/pkg/strategies"
	"github.com/mat-scan/matscan/pkg/strategy"
	"github.com/mat-scan/matscan/pkg/targets"
	"github.com/mat-scan/matscan/pkg/tcpengine"
)

// purgeInterval bounds how often the receiver sweeps for connections that
// never completed; independent of the configured ping timeout so a very
// long timeout doesn't also mean rarely checking for stale entries.
const purgeInterval = 60 * time.Second

var errShutdownTimeout = errors.New("shutdown timed out")

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	flag.Parse()

	configPath := "config.toml"
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	ctx := context.Background()

	rawCfg, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	baseLogger, err := lifecycle.NewLoggerImpl(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	rootLog := baseLogger.WithComponent("matscan")
	rootLog.Info().Bytes("config", config.Redacted(rawCfg)).Msg("starting matscan")

	strategiesPath := "strategies.json"
	if cfg.LoggingDir != "" {
		strategiesPath = cfg.LoggingDir + "/strategies.json"
	}

	excludeRanges, err := loadExcludeFile(cfg.ExcludeFile)
	if err != nil {
		return fmt.Errorf("failed to load exclude file: %w", err)
	}

	pool, err := store.NewPool(ctx, cfg.PostgresURI, baseLogger.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, baseLogger.WithComponent("store"))
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	fp := rawnet.Fingerprints[0]

	rawSock, err := rawnet.Open(fp)
	if err != nil {
		return fmt.Errorf("failed to open raw socket: %w", err)
	}
	defer rawSock.Close()

	var sock rawnet.Conn = rawSock
	if cfg.Debug.SimulateRxLoss > 0 || cfg.Debug.SimulateTxLoss > 0 {
		sock = rawnet.NewLossy(rawSock, cfg.Debug.SimulateRxLoss, cfg.Debug.SimulateTxLoss)
		rootLog.Warn().Float64("rx_loss", cfg.Debug.SimulateRxLoss).Float64("tx_loss", cfg.Debug.SimulateTxLoss).
			Msg("debug.simulate_rx_loss/simulate_tx_loss active, packets will be dropped")
	}

	handshake := mcping.HandshakeConfig{
		ProtocolVersion: cfg.Target.ProtocolVersion,
		Hostname:        cfg.Target.Addr,
		Port:            cfg.Target.Port,
	}

	pingProtocol := mcping.Ping{Handshake: handshake}
	fingerprintProtocol := mcping.Fingerprint{Handshake: handshake}

	var notifier mcping.Notifier
	if cfg.Snipe.Enabled && cfg.Snipe.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Snipe.WebhookURL)
	}

	snipeTracker := mcping.NewSnipeTracker(mcping.SnipeConfig{
		Enabled:     cfg.Snipe.Enabled,
		Usernames:   cfg.Snipe.Usernames,
		AnonPlayers: cfg.Snipe.AnonPlayers,
	}, notifier, st, baseLogger.WithComponent("snipe"))

	detector := pipeline.NewDetector()
	proc := pipeline.New(st, snipeTracker, detector, baseLogger.WithComponent("pipeline"))

	fpSink := orchestrator.NewFingerprintSink(st, baseLogger.WithComponent("fingerprint"))

	seed := deriveSeed(cfg)

	receiver := tcpengine.NewReceiver(sock, seed, pingProtocol, proc, baseLogger.WithComponent("receiver"))

	picker := strategy.NewPicker(strategiesPath)

	onlyScanAddr, err := parseOnlyScanAddr(cfg.Debug.OnlyScanAddr)
	if err != nil {
		return err
	}

	orchCfg := orchestrator.Config{
		Seed:               seed,
		SourcePort:         toSessionSourcePort(cfg.SourcePort),
		Rate:               cfg.Rate,
		ScanDuration:       cfg.ScanDuration(),
		SleepInterval:      cfg.SleepInterval(),
		AliasedAllowedPort: cfg.AliasedAllowedPort,
		NormalEnabled:      cfg.Scanner.Enabled,
		AllowedStrategies:  toStrategyNames(cfg.Scanner.Strategies),
		RescanWindows:      toRescanWindows(cfg.Rescan),
		FingerprintEnabled: cfg.Fingerprinting.Enabled,
		ExitOnDone:         cfg.Debug.ExitOnDone,
		OnlyScanAddr:       onlyScanAddr,
	}

	orch := orchestrator.New(orchCfg, st, picker, proc, fpSink, sock, receiver, excludeRanges,
		pingProtocol, fingerprintProtocol, baseLogger.WithComponent("orchestrator"))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go proc.Run(runCtx)
	go fpSink.Run(runCtx)
	go receiver.Run(runCtx, cfg.PingTimeout(), purgeInterval)
	go st.RunHousekeeping(runCtx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- orch.Run(runCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		rootLog.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		return shutdown(cancel, errChan, rootLog)

	case err := <-errChan:
		cancel()

		if err != nil {
			return fmt.Errorf("orchestrator stopped: %w", err)
		}

		rootLog.Info().Msg("orchestrator exited after one cycle")
		return nil
	}
}

const shutdownTimeout = 10 * time.Second

func shutdown(cancel context.CancelFunc, errChan chan error, log zerolog.Logger) error {
	cancel()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()

	select {
	case <-errChan:
		log.Info().Msg("matscan shutdown complete")
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", errShutdownTimeout, shutdownTimeout)
	}
}

func loadExcludeFile(path string) (*targets.Ipv4Ranges, error) {
	if path == "" {
		return targets.NewIpv4Ranges(nil), nil
	}

	return targets.ParseExcludeFile(path)
}

func toSessionSourcePort(sp config.SourcePort) session.SourcePort {
	if sp.Min != 0 || sp.Max != 0 {
		return session.RangeSourcePort(sp.Min, sp.Max)
	}

	return session.FixedSourcePort(sp.Port)
}

func toStrategyNames(names []string) []strategy.Name {
	if len(names) == 0 {
		return nil
	}

	out := make([]strategy.Name, 0, len(names))
	for _, n := range names {
		out = append(out, strategy.Name(n))
	}

	return out
}

func toRescanWindows(configured []config.Rescan) []strategies.RescanWindow {
	var windows []strategies.RescanWindow

	for _, r := range configured {
		if !r.Enabled {
			continue
		}

		sort := strategies.SortOldest
		if r.Sort == "random" {
			sort = strategies.SortRandom
		}

		windows = append(windows, strategies.RescanWindow{
			RescanEvery:         time.Duration(r.RescanEverySecs) * time.Second,
			LastPingAgoMax:      time.Duration(r.LastPingAgoMaxSecs) * time.Second,
			Limit:               r.Limit,
			Sort:                sort,
			Padded:              r.Padded,
			PlayersOnlineAgoMax: time.Duration(r.PlayersOnlineAgoMaxSecs) * time.Second,
			FilterSQL:           r.FilterSQL,
		})
	}

	return windows
}

// deriveSeed picks a per-process scan seed. A fixed seed would make every
// restart re-walk targets in the exact same order, so the seed is mixed
// from the current time instead of hardcoded.
func deriveSeed(cfg *config.Config) uint64 {
	seed := uint64(time.Now().UnixNano())
	if cfg.Debug.OnlyScanAddr != "" {
		// Deterministic order makes a single-target debug run reproducible.
		return 1
	}

	return seed
}

var errInvalidOnlyScanAddr = errors.New("debug.only_scan_addr is not a valid IPv4 address")

// parseOnlyScanAddr resolves debug.only_scan_addr into the packed uint32
// orchestrator.Config.OnlyScanAddr wants, leaving it nil when unset.
func parseOnlyScanAddr(addr string) (*uint32, error) {
	if addr == "" {
		return nil, nil
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", errInvalidOnlyScanAddr, addr)
	}

	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("%w: %q", errInvalidOnlyScanAddr, addr)
	}

	packed := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])

	return &packed, nil
}
