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

package pipeline

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// aliasDetectorCapacity bounds memory use: one entry per distinct IP that
// has ever produced a processed response, evicted LRU once full.
const aliasDetectorCapacity = 1 << 20

// AliasTriggerCount is the number of distinct ports that must echo the same
// response fingerprint before an IP is classified as aliased.
const AliasTriggerCount = 100

// DefaultAliasedPort is the one port still scanned on an IP after it's
// classified as aliased.
const DefaultAliasedPort = 25565

type ipEntry struct {
	mu        sync.Mutex
	hash      uint64
	live      bool
	count     int
	ports     map[uint16]struct{}
	triggered bool
}

// Detector tracks, per source IP, whether every port answers with the same
// response fingerprint — the signature of a host that wildcard-aliases
// every port to one backend. It holds its own lock per entry rather than a
// single package-wide mutex so concurrent Observe calls for different IPs
// don't serialize.
type Detector struct {
	cache *lru.Cache[uint32, *ipEntry]
}

// NewDetector builds a Detector with room for aliasDetectorCapacity IPs.
func NewDetector() *Detector {
	cache, err := lru.New[uint32, *ipEntry](aliasDetectorCapacity)
	if err != nil {
		// Only returns an error for a non-positive size.
		panic(err)
	}

	return &Detector{cache: cache}
}

// Observe records that ip:port produced a response hashing to
// fingerprintHash, and reports whether this observation is the one that
// pushed ip over AliasTriggerCount for the first time. A false result
// means either the IP isn't aliased yet, it already was (and the caller
// already acted on that), or this port was already counted for this IP.
func (d *Detector) Observe(ip uint32, port uint16, fingerprintHash uint64) bool {
	entry, ok := d.cache.Get(ip)
	if !ok {
		entry = &ipEntry{
			hash:  fingerprintHash,
			live:  true,
			count: 1,
			ports: map[uint16]struct{}{port: {}},
		}
		d.cache.Add(ip, entry)

		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, seen := entry.ports[port]; seen {
		return false
	}
	entry.ports[port] = struct{}{}

	if entry.triggered || !entry.live {
		return false
	}

	if entry.hash != fingerprintHash {
		entry.live = false
		return false
	}

	entry.count++
	if entry.count >= AliasTriggerCount {
		entry.triggered = true
		return true
	}

	return false
}
