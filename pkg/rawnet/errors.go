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

package rawnet

import "errors"

var (
	ErrShortIPv4Header     = errors.New("rawnet: short IPv4 header")
	ErrNotIPv4             = errors.New("rawnet: not an IPv4 packet")
	ErrBadIPv4HeaderLength = errors.New("rawnet: bad IPv4 header length")
	ErrShortTCPHeader      = errors.New("rawnet: short TCP header")
	ErrNonIPv4LocalIP      = errors.New("rawnet: local IP is not IPv4")
	ErrNoSuitableInterface = errors.New("rawnet: no suitable local IPv4 address found")
	ErrSocketClosed        = errors.New("rawnet: socket is closed")
)
