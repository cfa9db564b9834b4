package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestCountAddressesSlash0(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(0, 0, 0, 0), ip(255, 255, 255, 255), 0)})
	assert.Equal(t, uint64(1)<<32, ranges.Count())
}

func TestCountSlash0(t *testing.T) {
	r := SinglePort(ip(0, 0, 0, 0), ip(255, 255, 255, 255), 25565)
	assert.Equal(t, uint64(4294967296), r.Count())
}

func TestSubtractCenter(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(1, 32, 32, 32), ip(1, 128, 128, 128), 0)})

	removed := ranges.ApplyExclude(NewIpv4Ranges([]Ipv4Range{
		{Start: ip(1, 64, 64, 64), End: ip(1, 96, 96, 96)},
	}))

	require.Equal(t, []ScanRange{
		SinglePort(ip(1, 32, 32, 32), ip(1, 64, 64, 63), 0),
		SinglePort(ip(1, 96, 96, 97), ip(1, 128, 128, 128), 0),
	}, ranges.Ranges())

	require.Equal(t, []Ipv4Range{
		{Start: ip(1, 64, 64, 64), End: ip(1, 96, 96, 96)},
	}, removed)
}

func TestSubtractCenterFromSlash0(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(0, 0, 0, 0), ip(255, 255, 255, 255), 0)})

	removed := ranges.ApplyExclude(NewIpv4Ranges([]Ipv4Range{
		SingleIP(ip(1, 1, 1, 1)),
		SingleIP(ip(1, 1, 1, 2)),
	}))

	require.Equal(t, []ScanRange{
		SinglePort(ip(0, 0, 0, 0), ip(1, 1, 1, 0), 0),
		SinglePort(ip(1, 1, 1, 3), ip(255, 255, 255, 255), 0),
	}, ranges.Ranges())

	require.Equal(t, []Ipv4Range{
		SingleIP(ip(1, 1, 1, 1)),
		SingleIP(ip(1, 1, 1, 2)),
	}, removed)
}

func TestSubtractLeft(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(1, 32, 32, 32), ip(1, 128, 128, 128), 0)})

	removed := ranges.ApplyExclude(NewIpv4Ranges([]Ipv4Range{
		{Start: ip(1, 32, 32, 32), End: ip(1, 96, 96, 96)},
	}))

	require.Equal(t, []ScanRange{
		SinglePort(ip(1, 96, 96, 97), ip(1, 128, 128, 128), 0),
	}, ranges.Ranges())

	require.Equal(t, []Ipv4Range{
		{Start: ip(1, 32, 32, 32), End: ip(1, 96, 96, 96)},
	}, removed)
}

func TestSubtractRight(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(1, 32, 32, 32), ip(1, 128, 128, 128), 0)})

	removed := ranges.ApplyExclude(NewIpv4Ranges([]Ipv4Range{
		{Start: ip(1, 96, 96, 96), End: ip(1, 128, 128, 128)},
	}))

	require.Equal(t, []ScanRange{
		SinglePort(ip(1, 32, 32, 32), ip(1, 96, 96, 95), 0),
	}, ranges.Ranges())

	require.Equal(t, []Ipv4Range{
		{Start: ip(1, 96, 96, 96), End: ip(1, 128, 128, 128)},
	}, removed)
}

func TestSubtractFullyContained(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{SinglePort(ip(1, 0, 0, 10), ip(1, 0, 0, 20), 25565)})

	removed := ranges.ApplyExclude(NewIpv4Ranges([]Ipv4Range{
		{Start: ip(1, 0, 0, 0), End: ip(1, 0, 0, 255)},
	}))

	assert.True(t, ranges.IsEmpty())
	require.Equal(t, []Ipv4Range{
		{Start: ip(1, 0, 0, 10), End: ip(1, 0, 0, 20)},
	}, removed)
}

func TestContainsButIsEmpty(t *testing.T) {
	ranges := NewIpv4Ranges(nil)
	assert.False(t, ranges.Contains(ip(1, 2, 3, 4)))
}

func TestIpv4RangesContains(t *testing.T) {
	ranges := NewIpv4Ranges([]Ipv4Range{
		{Start: ip(10, 0, 0, 0), End: ip(10, 0, 0, 255)},
		{Start: ip(192, 168, 0, 0), End: ip(192, 168, 255, 255)},
	})

	assert.True(t, ranges.Contains(ip(10, 0, 0, 128)))
	assert.True(t, ranges.Contains(ip(192, 168, 1, 1)))
	assert.False(t, ranges.Contains(ip(10, 0, 1, 0)))
	assert.False(t, ranges.Contains(ip(8, 8, 8, 8)))
}

func TestStaticIndexingBijection(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{
		SinglePort(ip(1, 0, 0, 0), ip(1, 0, 0, 3), 25565),
		SinglePort(ip(2, 0, 0, 0), ip(2, 0, 0, 1), 80),
	})

	static := ranges.ToStatic()
	n := static.Count()
	assert.Equal(t, uint64(6), n)

	seen := make(map[Addr]bool)

	for k := uint64(0); k < n; k++ {
		addr := static.Index(k)
		assert.False(t, seen[addr], "duplicate addr %v at index %d", addr, k)
		seen[addr] = true
		assert.Equal(t, ranges.SlowIndex(k), addr)
	}

	assert.Len(t, seen, int(n))
}

func TestIndexOutOfBoundsPanics(t *testing.T) {
	ranges := NewScanRanges([]ScanRange{Single(ip(1, 2, 3, 4), 80)})
	static := ranges.ToStatic()

	assert.Panics(t, func() {
		static.Index(static.Count())
	})
}
