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

// Package asn resolves IPv4 addresses to announcing autonomous system
// numbers from a MaxMind GeoLite2-ASN database, downloaded once at startup
// and held in memory for the life of the process. It's an optional
// collaborator: strategies that don't care about network operators never
// touch this package.
package asn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
	"github.com/rs/zerolog"
)

// currentRetryInterval is a var, not a const, solely so tests can shrink it;
// production code never changes it from its default.
var currentRetryInterval = 10 * time.Second

// mmdb is the subset of *maxminddb.Reader the resolver needs, broken out
// as an interface so tests can swap in a fake database without a real
// GeoLite2 file on disk.
type mmdb interface {
	Lookup(ip net.IP, result interface{}) error
	Close() error
}

var _ mmdb = (*maxminddb.Reader)(nil)

type asnRecord struct {
	AutonomousSystemNumber uint32 `maxminddb:"autonomous_system_number"`
}

// Resolver answers ASN lookups against whatever database Load last
// installed. The zero value is safe to use: Lookup returns (0, false)
// until Load succeeds.
type Resolver struct {
	log zerolog.Logger

	fetch func(ctx context.Context, url string) ([]byte, error)
	parse func(data []byte) (mmdb, error)

	mu sync.RWMutex
	db mmdb
}

// NewResolver builds a Resolver with no database loaded yet.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{
		log:   log,
		fetch: httpFetch,
		parse: func(data []byte) (mmdb, error) { return maxminddb.FromBytes(data) },
	}
}

// Load downloads the GeoLite2-ASN database at url and installs it,
// retrying every 10s on failure (network error or bad data) until it
// succeeds or ctx is cancelled.
func (r *Resolver) Load(ctx context.Context, url string) error {
	for {
		if err := r.loadOnce(ctx, url); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			r.log.Warn().Err(err).Msg("failed downloading ASN database, retrying in 10s")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(currentRetryInterval):
		}
	}
}

func (r *Resolver) loadOnce(ctx context.Context, url string) error {
	data, err := r.fetch(ctx, url)
	if err != nil {
		return err
	}

	db, err := r.parse(data)
	if err != nil {
		return fmt.Errorf("asn: failed to parse database: %w", err)
	}

	r.mu.Lock()
	old := r.db
	r.db = db
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	return nil
}

// Lookup returns the autonomous system number announcing ip, if a database
// is loaded and ip falls within a known range.
func (r *Resolver) Lookup(ip net.IP) (uint32, bool) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return 0, false
	}

	var record asnRecord
	if err := db.Lookup(ip, &record); err != nil {
		return 0, false
	}

	return record.AutonomousSystemNumber, record.AutonomousSystemNumber != 0
}

func httpFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("asn: failed to build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asn: failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asn: download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("asn: failed to read response body: %w", err)
	}

	return data, nil
}
