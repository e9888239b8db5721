package address_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scalpelre/memmap/address"
)

func testFactory(t *testing.T) (*address.Factory, *address.Space) {
	t.Helper()
	factory := address.NewFactory("ram", 0xFFFFFFFF)
	return factory, factory.DefaultSpace()
}

func TestSetAddAndCoalesce(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet()
	set.AddRange(ram.Address(0x100), ram.Address(0x1FF))
	set.AddRange(ram.Address(0x300), ram.Address(0x3FF))
	require.Equal(t, 2, set.NumRanges())
	require.Equal(t, uint64(0x200), set.NumAddresses())

	// Adjacent ranges merge.
	set.AddRange(ram.Address(0x200), ram.Address(0x2FF))
	require.Equal(t, 1, set.NumRanges())
	require.Equal(t, uint64(0x300), set.NumAddresses())

	// Overlapping ranges merge without double counting.
	set.AddRange(ram.Address(0x80), ram.Address(0x180))
	require.Equal(t, 1, set.NumRanges())
	require.Equal(t, uint64(0x380), set.NumAddresses())

	min, ok := set.MinAddress()
	require.True(t, ok)
	require.Equal(t, ram.Address(0x80), min)
	max, ok := set.MaxAddress()
	require.True(t, ok)
	require.Equal(t, ram.Address(0x3FF), max)
}

func TestSetDeleteSplitsRanges(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet(address.NewRange(ram.Address(0x1000), ram.Address(0x1FFF)))
	set.DeleteRange(ram.Address(0x1400), ram.Address(0x17FF))

	require.Equal(t, 2, set.NumRanges())
	require.True(t, set.Contains(ram.Address(0x13FF)))
	require.False(t, set.Contains(ram.Address(0x1400)))
	require.False(t, set.Contains(ram.Address(0x17FF)))
	require.True(t, set.Contains(ram.Address(0x1800)))
	require.Equal(t, uint64(0xC00), set.NumAddresses())
}

func TestSetContainsAndIntersects(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet(
		address.NewRange(ram.Address(0x10), ram.Address(0x1F)),
		address.NewRange(ram.Address(0x40), ram.Address(0x4F)),
	)
	require.True(t, set.Contains(ram.Address(0x10)))
	require.True(t, set.Contains(ram.Address(0x4F)))
	require.False(t, set.Contains(ram.Address(0x20)))

	require.True(t, set.ContainsRange(ram.Address(0x12), ram.Address(0x18)))
	require.False(t, set.ContainsRange(ram.Address(0x18), ram.Address(0x42)))

	require.True(t, set.Intersects(ram.Address(0x18), ram.Address(0x42)))
	require.False(t, set.Intersects(ram.Address(0x20), ram.Address(0x3F)))
}

func TestSetIntersectAndSubtract(t *testing.T) {
	_, ram := testFactory(t)

	a := address.NewSet(address.NewRange(ram.Address(0x00), ram.Address(0xFF)))
	b := address.NewSet(
		address.NewRange(ram.Address(0x80), ram.Address(0x17F)),
		address.NewRange(ram.Address(0x200), ram.Address(0x2FF)),
	)

	inter := a.Intersect(b)
	require.Equal(t, 1, inter.NumRanges())
	require.Equal(t, uint64(0x80), inter.NumAddresses())
	require.True(t, inter.Contains(ram.Address(0x80)))
	require.True(t, inter.Contains(ram.Address(0xFF)))

	diff := a.Subtract(b)
	require.Equal(t, uint64(0x80), diff.NumAddresses())
	require.True(t, diff.Contains(ram.Address(0x7F)))
	require.False(t, diff.Contains(ram.Address(0x80)))

	union := a.Union(b)
	require.Equal(t, uint64(0x280), union.NumAddresses())
	require.Equal(t, 2, union.NumRanges())
}

func TestSetMultipleSpaces(t *testing.T) {
	factory, ram := testFactory(t)
	ov, err := factory.AddMemorySpace("ov", 0xFFFF)
	require.NoError(t, err)

	set := address.NewSet()
	set.AddRange(ov.Address(0x0), ov.Address(0xF))
	set.AddRange(ram.Address(0x1000), ram.Address(0x100F))

	// Ranges sort by space creation order, then offset.
	ranges := set.Ranges()
	require.Len(t, ranges, 2)
	require.Equal(t, ram.Address(0x1000), ranges[0].Min())
	require.Equal(t, ov.Address(0x0), ranges[1].Min())

	require.True(t, set.Contains(ov.Address(0x8)))
	require.False(t, set.Contains(ov.Address(0x10)))
	require.Equal(t, uint64(32), set.NumAddresses())
}

func TestIteratorForward(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet(
		address.NewRange(ram.Address(0x10), ram.Address(0x11)),
		address.NewRange(ram.Address(0x20), ram.Address(0x21)),
	)

	it := set.Addresses(ram.Address(0x11), true)
	var got []uint64
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, a.Offset())
	}
	require.Equal(t, []uint64{0x11, 0x20, 0x21}, got)
}

func TestIteratorBackward(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet(
		address.NewRange(ram.Address(0x10), ram.Address(0x11)),
		address.NewRange(ram.Address(0x20), ram.Address(0x21)),
	)

	// Start in the gap between the ranges; iteration seats on the highest
	// address at or below the start.
	it := set.Addresses(ram.Address(0x18), false)
	var got []uint64
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, a.Offset())
	}
	require.Equal(t, []uint64{0x11, 0x10}, got)
}

func TestIteratorReseatsInGap(t *testing.T) {
	_, ram := testFactory(t)

	set := address.NewSet(
		address.NewRange(ram.Address(0x10), ram.Address(0x1F)),
		address.NewRange(ram.Address(0x40), ram.Address(0x4F)),
	)

	it := set.Addresses(ram.Address(0x30), true)
	a, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, ram.Address(0x40), a)
}

func TestSetEqualAndClone(t *testing.T) {
	_, ram := testFactory(t)

	a := address.NewSet(address.NewRange(ram.Address(0x0), ram.Address(0xF)))
	b := a.Clone()
	require.True(t, a.Equal(b))

	b.AddRange(ram.Address(0x20), ram.Address(0x2F))
	require.False(t, a.Equal(b))
	require.Equal(t, uint64(0x10), a.NumAddresses())
}
