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

package tcpengine

import "errors"

var (
	// ErrInvalidResponse means the protocol gave up on this response;
	// the connection's state (if any) should not be retained.
	ErrInvalidResponse = errors.New("tcpengine: invalid response")

	// ErrIncompleteResponse means more bytes are needed before the
	// protocol can parse a complete response.
	ErrIncompleteResponse = errors.New("tcpengine: incomplete response")
)
