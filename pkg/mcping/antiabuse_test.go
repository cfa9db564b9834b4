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
)

func TestIsAllowedRejectsBannedDescription(t *testing.T) {
	r := &PingResponse{DescriptionPlaintext: "welcome to Craftserve.pl - wydajny hosting Minecraft! today"}
	assert.False(t, IsAllowed(r))
}

func TestIsAllowedRejectsBannedVersion(t *testing.T) {
	name := "TCPShield.com Proxy"
	r := &PingResponse{VersionName: &name}
	assert.False(t, IsAllowed(r))
}

func TestIsAllowedAcceptsOrdinaryServer(t *testing.T) {
	name := "1.20.1"
	r := &PingResponse{DescriptionPlaintext: "a cool survival server", VersionName: &name}
	assert.True(t, IsAllowed(r))
}
