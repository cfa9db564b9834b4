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

// Package targets implements interval algebra over IPv4 address x port
// rectangles: building scan ranges, subtracting excludes, and indexing into
// the resulting set in O(log n).
package targets

import "sort"

// Addr is an (ip, port) pair identifying one scan target.
type Addr struct {
	IP   uint32
	Port uint16
}

// ScanRange is a rectangular product [IPStart, IPEnd] x [PortStart, PortEnd],
// both endpoints inclusive.
type ScanRange struct {
	IPStart, IPEnd     uint32
	PortStart, PortEnd uint16
}

// Single returns a ScanRange covering exactly one (ip, port).
func Single(ip uint32, port uint16) ScanRange {
	return ScanRange{IPStart: ip, IPEnd: ip, PortStart: port, PortEnd: port}
}

// SinglePort returns a ScanRange covering [addrStart, addrEnd] on one port.
func SinglePort(addrStart, addrEnd uint32, port uint16) ScanRange {
	return ScanRange{IPStart: addrStart, IPEnd: addrEnd, PortStart: port, PortEnd: port}
}

// SingleAddress returns a ScanRange covering one address across [portStart, portEnd].
func SingleAddress(addr uint32, portStart, portEnd uint16) ScanRange {
	return ScanRange{IPStart: addr, IPEnd: addr, PortStart: portStart, PortEnd: portEnd}
}

// CountAddresses returns the number of addresses spanned by r.
func (r ScanRange) CountAddresses() uint64 {
	return uint64(r.IPEnd) - uint64(r.IPStart) + 1
}

// CountPorts returns the number of ports spanned by r.
func (r ScanRange) CountPorts() uint64 {
	return uint64(r.PortEnd) - uint64(r.PortStart) + 1
}

// Count returns the total number of (ip, port) combinations in r.
func (r ScanRange) Count() uint64 {
	return r.CountAddresses() * r.CountPorts()
}

// Index returns the (ip, port) at the given row-major index within r.
// Addresses are the outer dimension, ports the inner one.
func (r ScanRange) Index(index uint64) Addr {
	portCount := r.CountPorts()
	addrIndex := index / portCount
	portIndex := index % portCount

	return Addr{
		IP:   r.IPStart + uint32(addrIndex),
		Port: r.PortStart + uint16(portIndex),
	}
}

// ScanRanges is an ordered sequence of ScanRange, sorted by IPStart.
// Overlaps are tolerated (uncommon in practice) but not required to be
// absent.
type ScanRanges struct {
	ranges []ScanRange
}

// NewScanRanges builds a ScanRanges from the given ranges, sorted by IPStart.
func NewScanRanges(ranges []ScanRange) *ScanRanges {
	s := &ScanRanges{}
	s.Extend(ranges)

	return s
}

// Extend appends more ranges and re-sorts by IPStart.
func (s *ScanRanges) Extend(r []ScanRange) {
	s.ranges = append(s.ranges, r...)
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].IPStart < s.ranges[j].IPStart })
}

// Ranges returns the underlying sorted ranges. Callers must not mutate it.
func (s *ScanRanges) Ranges() []ScanRange {
	return s.ranges
}

// IsEmpty reports whether s has no ranges.
func (s *ScanRanges) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Count returns the total number of (ip, port) combinations across all ranges.
func (s *ScanRanges) Count() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Count()
	}

	return total
}

// ApplyExclude subtracts every IP in exclude from every ScanRange in s,
// preserving each surviving fragment's port range. It returns the exact IP
// intervals that were actually removed, so callers can schedule a
// default-port-only sweep of them separately.
//
// This is a linear merge of two sorted sequences: for each overlap between a
// scan range and an exclude range, up to two surviving fragments are
// emitted (left of the exclude, right of the exclude); fully-contained scan
// ranges are dropped entirely, and a scan range that fully straddles one
// exclude range produces exactly two survivors.
func (s *ScanRanges) ApplyExclude(exclude *Ipv4Ranges) []Ipv4Range {
	var (
		result  []ScanRange
		removed []Ipv4Range
	)

	scanRanges := s.ranges
	s.ranges = nil

	excludeRanges := exclude.ranges

	if len(excludeRanges) == 0 {
		s.ranges = scanRanges
		return nil
	}

	if len(scanRanges) == 0 {
		return nil
	}

	si, ei := 0, 0
	scanRange := scanRanges[0]

	for {
		excludeRange := excludeRanges[ei]

		switch {
		case scanRange.IPEnd < excludeRange.Start:
			// scanRange is entirely before excludeRange.
			result = append(result, scanRange)

			si++
			if si >= len(scanRanges) {
				goto done
			}

			scanRange = scanRanges[si]

		case scanRange.IPStart > excludeRange.End:
			// scanRange is entirely after excludeRange.
			ei++
			if ei >= len(excludeRanges) {
				result = append(result, scanRange)
				goto done
			}

		case scanRange.IPStart < excludeRange.Start && scanRange.IPEnd > excludeRange.End:
			// scanRange contains excludeRange: emit the left fragment, keep
			// scanning the right fragment against later excludes.
			result = append(result, ScanRange{
				IPStart:   scanRange.IPStart,
				IPEnd:     excludeRange.Start - 1,
				PortStart: scanRange.PortStart,
				PortEnd:   scanRange.PortEnd,
			})
			removed = append(removed, excludeRange)
			scanRange.IPStart = excludeRange.End + 1

		case scanRange.IPStart < excludeRange.Start:
			// Cut off the right side.
			result = append(result, ScanRange{
				IPStart:   scanRange.IPStart,
				IPEnd:     excludeRange.Start - 1,
				PortStart: scanRange.PortStart,
				PortEnd:   scanRange.PortEnd,
			})
			removed = append(removed, Ipv4Range{Start: excludeRange.Start, End: scanRange.IPEnd})

			si++
			if si >= len(scanRanges) {
				goto done
			}

			scanRange = scanRanges[si]

		case scanRange.IPEnd > excludeRange.End:
			// Cut off the left side; keep scanning the remainder.
			removed = append(removed, Ipv4Range{Start: scanRange.IPStart, End: excludeRange.End})
			scanRange.IPStart = excludeRange.End + 1

		default:
			// scanRange is entirely contained within excludeRange.
			removed = append(removed, Ipv4Range{Start: scanRange.IPStart, End: scanRange.IPEnd})

			si++
			if si >= len(scanRanges) {
				goto done
			}

			scanRange = scanRanges[si]
		}
	}

done:
	if si < len(scanRanges) {
		result = append(result, scanRanges[si+1:]...)
	}

	s.ranges = result

	return removed
}

// SlowIndex is a linear O(n) indexer, provided for testing ToStatic's
// binary-search indexer against. Callers in the hot path should use
// ToStatic().Index instead.
func (s *ScanRanges) SlowIndex(index uint64) Addr {
	for _, r := range s.ranges {
		count := r.Count()
		if index < count {
			return r.Index(index)
		}

		index -= count
	}

	panic("targets: index out of bounds")
}

// ToStatic builds an immutable, binary-searchable snapshot of s.
func (s *ScanRanges) ToStatic() *StaticScanRanges {
	ranges := make([]staticRange, 0, len(s.ranges))

	var index uint64

	for _, r := range s.ranges {
		count := r.Count()
		ranges = append(ranges, staticRange{r: r, count: count, index: index})
		index += count
	}

	return &StaticScanRanges{ranges: ranges, total: index}
}

type staticRange struct {
	r     ScanRange
	count uint64
	index uint64
}

// StaticScanRanges is an immutable snapshot of ScanRanges with a prefix-sum
// index enabling O(log n) Index(k) via binary search over cumulative counts.
type StaticScanRanges struct {
	ranges []staticRange
	total  uint64
}

// Count returns the total number of (ip, port) combinations.
func (s *StaticScanRanges) Count() uint64 {
	return s.total
}

// Index returns the (ip, port) at the given global index, 0 <= index < Count().
// It is a programmer error to call this with index >= Count().
func (s *StaticScanRanges) Index(index uint64) Addr {
	start, end := 0, len(s.ranges)

	for start < end {
		mid := (start + end) / 2
		r := s.ranges[mid]

		switch {
		case r.index+r.count <= index:
			start = mid + 1
		case r.index > index:
			end = mid
		default:
			return r.r.Index(index - r.index)
		}
	}

	panic("targets: index out of bounds")
}

// Ipv4Range is an inclusive IPv4 address interval.
type Ipv4Range struct {
	Start, End uint32
}

// SingleIP returns an Ipv4Range covering exactly one address.
func SingleIP(addr uint32) Ipv4Range {
	return Ipv4Range{Start: addr, End: addr}
}

// Ipv4Ranges is a sorted sequence of Ipv4Range supporting O(log n)
// membership tests.
type Ipv4Ranges struct {
	ranges []Ipv4Range
}

// NewIpv4Ranges builds an Ipv4Ranges sorted by Start.
func NewIpv4Ranges(ranges []Ipv4Range) *Ipv4Ranges {
	sorted := make([]Ipv4Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	return &Ipv4Ranges{ranges: sorted}
}

// Contains reports whether addr falls within any range.
func (i *Ipv4Ranges) Contains(addr uint32) bool {
	start, end := 0, len(i.ranges)

	for start < end {
		mid := (start + end) / 2
		r := i.ranges[mid]

		switch {
		case r.End < addr:
			start = mid + 1
		case r.Start > addr:
			end = mid
		default:
			return true
		}
	}

	return false
}

// IsEmpty reports whether i has no ranges.
func (i *Ipv4Ranges) IsEmpty() bool {
	return len(i.ranges) == 0
}

// Ranges returns the underlying sorted ranges. Callers must not mutate it.
func (i *Ipv4Ranges) Ranges() []Ipv4Range {
	return i.ranges
}

// Count returns the total number of addresses spanned.
func (i *Ipv4Ranges) Count() uint64 {
	var total uint64
	for _, r := range i.ranges {
		total += uint64(r.End) - uint64(r.Start) + 1
	}

	return total
}
