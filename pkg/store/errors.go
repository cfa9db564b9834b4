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

package store

import "errors"

var (
	// ErrFailedToQuery wraps any read-path failure (ActiveServers,
	// RescanCandidates, LastPinged, IsAliasedDrop, historical-player
	// lookups).
	ErrFailedToQuery = errors.New("store: failed to query")

	// ErrFailedToUpsert wraps any write-path failure (UpsertServer,
	// MarkAliased, the housekeeping trim).
	ErrFailedToUpsert = errors.New("store: failed to upsert")
)
