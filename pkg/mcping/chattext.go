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
	"encoding/json"
	"strings"
)

// chatComponent is a Minecraft chat component: either a bare JSON string,
// or an object with a "text" field and optional nested "extra" components.
// Only the text content is kept; styling (color, bold, …) is dropped.
type chatComponent struct {
	Text  string          `json:"text"`
	Extra []chatComponent `json:"extra"`
}

// plaintextFromChatComponent converts raw (a JSON string or chat-component
// object) into its plain-text rendering, concatenating "text" with every
// "extra" entry in order. Malformed input yields an empty string rather
// than an error: the description field is optional everywhere it's used.
func plaintextFromChatComponent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var component chatComponent
	if err := json.Unmarshal(raw, &component); err != nil {
		return ""
	}

	var b strings.Builder

	b.WriteString(component.Text)

	for _, extra := range component.Extra {
		b.WriteString(plaintextFromComponent(extra))
	}

	return b.String()
}

func plaintextFromComponent(c chatComponent) string {
	var b strings.Builder

	b.WriteString(c.Text)

	for _, extra := range c.Extra {
		b.WriteString(plaintextFromComponent(extra))
	}

	return b.String()
}
