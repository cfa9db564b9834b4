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

import "strings"

// bannedDescriptions are MOTD substrings belonging to hosting panels,
// anti-DDoS walls, and placeholder pages rather than real servers. Matching
// any of these means the response is noise, not a ping worth keeping.
var bannedDescriptions = []string{
	"Craftserve.pl - wydajny hosting Minecraft!",
	"Pay for the server on https://craftserve.com to be able to log in.",
	"Craftserve: Error finding route. Please contact support.",
	"Nie znaleziono serwera o podanym adresie, zakup go na https://craftserve.com",
	"Ochrona DDoS: Przekroczono limit polaczen.",
	"¨ |  ",
	"Start the server at FalixNodes.net/start",
	"This server is offline Powered by FalixNodes.net",
	"Serwer jest aktualnie wy",
	"Blad pobierania statusu. Polacz sie bezposrednio!",
	"Error connecting to server#",
	// play.devlencio.net requested exclusion: Velocity logs errors on
	// ping, and the MOTD alone can't distinguish it from a real server
	// because of a dynamic IP.
	"The hub for all Devlencio servers",
	// mc.playersworld.ru requested exclusion.
	"Players World — равноправие",
}

// bannedVersions are version-name substrings belonging to proxies and
// anti-DDoS shields that answer the ping themselves instead of the server
// behind them.
var bannedVersions = []string{"COSMIC GUARD", "TCPShield.com", "â  Error", "⚠ Error"}

// IsAllowed reports whether r's description and version name are clear of
// every known abusive/placeholder pattern. A false result means the
// response should be discarded rather than persisted.
func IsAllowed(r *PingResponse) bool {
	for _, banned := range bannedDescriptions {
		if strings.Contains(r.DescriptionPlaintext, banned) {
			return false
		}
	}

	if r.VersionName != nil {
		for _, banned := range bannedVersions {
			if strings.Contains(*r.VersionName, banned) {
				return false
			}
		}
	}

	return true
}
