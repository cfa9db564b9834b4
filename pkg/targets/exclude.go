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

package targets

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ParseExcludeFile reads an operator-supplied blocklist from path: one
// entry per line, "#" starts a comment, and each entry is a single address
// (a.b.c.d), an inclusive range (a.b.c.d-e.f.g.h), or a CIDR prefix
// (a.b.c.d/n). Blank lines and fully-commented lines are skipped.
func ParseExcludeFile(path string) (*Ipv4Ranges, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets: failed to read exclude file %s: %w", path, err)
	}

	return ParseExclude(string(data))
}

// ParseExclude parses the exclude-file format described by ParseExcludeFile
// directly from a string, for testing and for config formats that embed
// the list inline.
func ParseExclude(input string) (*Ipv4Ranges, error) {
	var ranges []Ipv4Range

	for lineNum, rawLine := range strings.Split(input, "\n") {
		line := strings.TrimSpace(rawLine)
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" {
			continue
		}

		isSlash := strings.Contains(line, "/")
		isHyphen := strings.Contains(line, "-")

		if isSlash && isHyphen {
			return nil, fmt.Errorf("targets: line %d: invalid exclude range %q (cannot contain both - and /)", lineNum+1, line)
		}

		var (
			r   Ipv4Range
			err error
		)

		switch {
		case isSlash:
			r, err = parseCIDRExclude(line)
		case isHyphen:
			r, err = parseRangeExclude(line)
		default:
			var ip uint32
			ip, err = parseIPv4(line)
			r = SingleIP(ip)
		}

		if err != nil {
			return nil, fmt.Errorf("targets: line %d: %w", lineNum+1, err)
		}

		ranges = append(ranges, r)
	}

	return NewIpv4Ranges(ranges), nil
}

func parseCIDRExclude(line string) (Ipv4Range, error) {
	parts := strings.SplitN(line, "/", 2)
	if len(parts) != 2 {
		return Ipv4Range{}, fmt.Errorf("invalid CIDR exclude %q", line)
	}

	ip, err := parseIPv4(parts[0])
	if err != nil {
		return Ipv4Range{}, err
	}

	prefixLen, err := strconv.Atoi(parts[1])
	if err != nil || prefixLen < 0 || prefixLen > 32 {
		return Ipv4Range{}, fmt.Errorf("invalid CIDR prefix length %q", parts[1])
	}

	maskBits := uint32(0)
	if prefixLen < 32 {
		maskBits = 1<<(32-prefixLen) - 1
	}

	return Ipv4Range{Start: ip &^ maskBits, End: ip | maskBits}, nil
}

func parseRangeExclude(line string) (Ipv4Range, error) {
	parts := strings.SplitN(line, "-", 2)
	if len(parts) != 2 {
		return Ipv4Range{}, fmt.Errorf("invalid exclude range %q", line)
	}

	start, err := parseIPv4(strings.TrimSpace(parts[0]))
	if err != nil {
		return Ipv4Range{}, err
	}

	end, err := parseIPv4(strings.TrimSpace(parts[1]))
	if err != nil {
		return Ipv4Range{}, err
	}

	if start > end {
		return Ipv4Range{}, fmt.Errorf("invalid exclude range %q (start cannot be greater than end)", line)
	}

	return Ipv4Range{Start: start, End: end}, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}

	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}

	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), nil
}
