package mem_test

import (
	"bytes"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/endian"
	"github.com/scalpelre/memmap/mem"
	"github.com/scalpelre/memmap/mem/store"
)

func TestCreateInitializedBlock(t *testing.T) {
	e := newTestEnv(t)
	b := e.createText(t)

	require.Equal(t, ".text", b.Name())
	require.Equal(t, e.ram.Address(0x1000), b.Start())
	require.Equal(t, e.ram.Address(0x100F), b.End())
	require.Equal(t, uint64(0x10), b.Size())
	require.True(t, b.IsInitialized())
	require.False(t, b.IsMapped())

	v, err := e.m.ReadByte(e.ram.Address(0x1005))
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), v)

	u, err := e.m.ReadUint32(e.ram.Address(0x1000), endian.Big)
	require.NoError(t, err)
	require.Equal(t, uint32(0xAAAAAAAA), u)

	require.Equal(t, uint64(16), e.m.NumAddresses())
	require.Equal(t, []mem.ChangeType{mem.ChangeBlockAdded}, e.bus.typesSeen())
	requireValid(t, e.m)
}

func TestCreateFromReaderAndLookup(t *testing.T) {
	e := newTestEnv(t)

	src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	b, err := e.m.CreateInitializedBlockFromReader("data", e.ram.Address(0x2000), src, 8, nil, false)
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := e.m.ReadBytes(e.ram.Address(0x2000), buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)

	require.Equal(t, b.ID(), e.m.Block(e.ram.Address(0x2003)).ID())
	require.Nil(t, e.m.Block(e.ram.Address(0x2008)))
	require.Equal(t, b.ID(), e.m.BlockByName("data").ID())
	require.Nil(t, e.m.BlockByName("nope"))
}

func TestUninitializedBlockAccess(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.m.CreateUninitializedBlock(".bss", e.ram.Address(0x2000), 0x100, false)
	require.NoError(t, err)

	_, err = e.m.ReadByte(e.ram.Address(0x2000))
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	n, err := e.m.ReadBytes(e.ram.Address(0x2000), make([]byte, 8))
	require.ErrorIs(t, err, mem.ErrMemoryAccess)
	require.Zero(t, n)

	// Covered but not initialized.
	require.True(t, e.m.Contains(e.ram.Address(0x2000)))
	require.False(t, e.m.AllInitializedSet().Contains(e.ram.Address(0x2000)))
	requireValid(t, e.m)
}

func TestRangeConflicts(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)

	_, err := e.m.CreateInitializedBlock("clash", e.ram.Address(0x1008), 0x10, 0, nil, false)
	require.ErrorIs(t, err, mem.ErrRangeConflict)

	// Zero length is rejected.
	_, err = e.m.CreateUninitializedBlock("empty", e.ram.Address(0x3000), 0, false)
	require.Error(t, err)

	// Address overflow at start+length-1.
	_, err = e.m.CreateUninitializedBlock("overflow", e.ram.Address(0xFFFFFFF0), 0x20, false)
	require.ErrorIs(t, err, address.ErrOverflow)

	// Blocks in the default space may not span the image base.
	e.program.imageBase = e.ram.Address(0x4000)
	_, err = e.m.CreateInitializedBlock("base", e.ram.Address(0x3FF0), 0x20, 0, nil, false)
	require.ErrorIs(t, err, mem.ErrRangeConflict)
}

func TestExclusiveAccessRequired(t *testing.T) {
	e := newTestEnv(t)
	b := e.createText(t)

	e.program.denyExclusive = true
	_, err := e.m.CreateInitializedBlock("x", e.ram.Address(0x4000), 4, 0, nil, false)
	require.ErrorIs(t, err, mem.ErrExclusiveAccess)
	require.Error(t, e.m.RemoveBlock(b, nil))
}

func TestByteMappedBlock(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)

	mb, err := e.m.CreateByteMappedBlock("mapped", e.ov.Address(0), e.ram.Address(0x1000), 4)
	require.NoError(t, err)
	require.True(t, mb.IsMapped())
	require.False(t, mb.IsInitialized())

	v, err := e.m.ReadByte(e.ov.Address(2))
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), v)

	// The mapped range projects into the initialized coverage.
	allInit := e.m.AllInitializedSet()
	require.True(t, allInit.ContainsRange(e.ov.Address(0), e.ov.Address(3)))

	// Writes forward to the target.
	require.NoError(t, e.m.WriteByte(e.ov.Address(1), 0x42))
	got, err := e.m.ReadByte(e.ram.Address(0x1001))
	require.NoError(t, err)
	require.Equal(t, byte(0x42), got)
	requireValid(t, e.m)
}

func TestBitMappedBlock(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)

	// ram:0x1000 = 0b10110001
	require.NoError(t, e.m.WriteByte(e.ram.Address(0x1000), 0xB1))

	bb, err := e.m.CreateBitMappedBlock("bits", e.ov.Address(0), e.ram.Address(0x1000), 8)
	require.NoError(t, err)
	require.Equal(t, store.TypeBitMapped, bb.Type())

	want := []byte{1, 0, 0, 0, 1, 1, 0, 1} // LSB first
	buf := make([]byte, 8)
	n, err := e.m.ReadBytes(e.ov.Address(0), buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, want, buf)

	// Bit writes only accept 0x00/0x01 and read-modify-write the target.
	require.NoError(t, e.m.WriteByte(e.ov.Address(1), 1))
	got, err := e.m.ReadByte(e.ram.Address(0x1000))
	require.NoError(t, err)
	require.Equal(t, byte(0xB3), got)

	err = e.m.WriteByte(e.ov.Address(2), 0x02)
	require.ErrorIs(t, err, mem.ErrMemoryAccess)
	requireValid(t, e.m)
}

func TestBitMappedProjectionTracksTarget(t *testing.T) {
	e := newTestEnv(t)

	// Mapped before the target exists: nothing is initialized.
	bb, err := e.m.CreateBitMappedBlock("bits", e.ov.Address(0), e.ram.Address(0x1000), 16)
	require.NoError(t, err)
	require.True(t, e.m.AllInitializedSet().IsEmpty())
	_, err = e.m.ReadByte(e.ov.Address(0))
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	// Creating the target initializes the projected range.
	e.createText(t)
	allInit := e.m.AllInitializedSet()
	require.True(t, allInit.ContainsRange(e.ov.Address(0), e.ov.Address(15)))
	require.True(t, e.m.LoadedInitializedSet().ContainsRange(e.ov.Address(0), e.ov.Address(15)))

	// Removing the target de-initializes it again.
	require.NoError(t, e.m.RemoveBlock(e.m.BlockByName(".text"), nil))
	require.False(t, e.m.AllInitializedSet().Contains(e.ov.Address(0)))
	_ = bb
	requireValid(t, e.m)
}

func TestTypedReadsAndWrites(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)
	a := e.ram.Address(0x1000)

	require.NoError(t, e.m.WriteUint16(a, 0xBEEF, endian.Big))
	v16, err := e.m.ReadUint16(a, endian.Big)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), v16)
	v16le, err := e.m.ReadUint16(a, endian.Little)
	require.NoError(t, err)
	require.Equal(t, uint16(0xEFBE), v16le)

	require.NoError(t, e.m.WriteUint32(a, 0xDEADBEEF)) // default order: little
	v32, err := e.m.ReadUint32(a)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v32)

	require.NoError(t, e.m.WriteUint64(a, 0x0123456789ABCDEF, endian.Big))
	v64, err := e.m.ReadUint64(a, endian.Big)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0123456789ABCDEF), v64)

	// Scalar reads demand the exact byte count.
	_, err = e.m.ReadUint32(e.ram.Address(0x100E))
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	// Bulk reads allow a short tail and round down to whole elements.
	dst := make([]uint16, 16)
	n, err := e.m.ReadUint16s(e.ram.Address(0x1008), dst)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestWritePreflight(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)

	// ram:0x1010 is not covered; the pre-flight must fail before any byte
	// is mutated.
	err := e.m.WriteBytes(e.ram.Address(0x100E), []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	v, err := e.m.ReadByte(e.ram.Address(0x100E))
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), v)
	v, err = e.m.ReadByte(e.ram.Address(0x100F))
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), v)
}

func TestWriteSpansAdjacentBlocks(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)
	_, err := e.m.CreateInitializedBlock("next", e.ram.Address(0x1010), 0x10, 0, nil, false)
	require.NoError(t, err)

	require.NoError(t, e.m.WriteBytes(e.ram.Address(0x100E), []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	_, err = e.m.ReadBytes(e.ram.Address(0x100E), buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestWriteRejectsInstructionConflict(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)

	e.code.instrs = []address.Range{
		address.NewRange(e.ram.Address(0x1004), e.ram.Address(0x1007)),
	}

	err := e.m.WriteByte(e.ram.Address(0x1005), 0)
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	// A span reaching into the instruction is rejected too.
	err = e.m.WriteBytes(e.ram.Address(0x1000), make([]byte, 8))
	require.ErrorIs(t, err, mem.ErrMemoryAccess)

	// Writes clear of the instruction pass.
	require.NoError(t, e.m.WriteBytes(e.ram.Address(0x1008), []byte{1, 2}))
}

func TestOverlayBlockLifecycle(t *testing.T) {
	e := newTestEnv(t)

	b, err := e.m.CreateInitializedBlock("ovl", e.ram.Address(0x5000), 0x10, 0x11, nil, true)
	require.NoError(t, err)
	require.Equal(t, store.TypeOverlay, b.Type())

	ovSpace := b.Start().Space()
	require.True(t, ovSpace.IsOverlay())
	require.Equal(t, "ovl", ovSpace.Name())
	require.Equal(t, uint64(0x5000), b.Start().Offset())

	v, err := e.m.ReadByte(b.Start())
	require.NoError(t, err)
	require.Equal(t, byte(0x11), v)

	// A second overlay with the same name collides.
	_, err = e.m.CreateInitializedBlock("ovl", e.ram.Address(0x5000), 0x10, 0, nil, true)
	require.ErrorIs(t, err, address.ErrDuplicateName)

	// Removing the only overlay block drops its space.
	require.NoError(t, e.m.RemoveBlock(b, nil))
	require.Nil(t, e.factory.Space("ovl"))
	requireValid(t, e.m)
}

func TestRebuildIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)
	_, err := e.m.CreateByteMappedBlock("mapped", e.ov.Address(0), e.ram.Address(0x1000), 4)
	require.NoError(t, err)

	before := e.m.AllInitializedSet()
	covered := e.m.AddressSet()

	require.NoError(t, e.m.InvalidateCache())
	require.NoError(t, e.m.InvalidateCache())

	require.True(t, before.Equal(e.m.AllInitializedSet()))
	require.True(t, covered.Equal(e.m.AddressSet()))
	requireValid(t, e.m)
}

func TestStatisticsAndDump(t *testing.T) {
	e := newTestEnv(t)
	e.createText(t)
	_, err := e.m.CreateUninitializedBlock(".bss", e.ram.Address(0x2000), 0x100, false)
	require.NoError(t, err)
	_, err = e.m.CreateByteMappedBlock("mapped", e.ov.Address(0), e.ram.Address(0x1000), 4)
	require.NoError(t, err)

	var stats mem.Statistics
	stats.Clear()
	e.m.AddStatistics(&stats)
	require.Equal(t, mem.Statistics{
		BlockCount:             3,
		InitializedBlockCount:  1,
		MappedBlockCount:       1,
		CoveredBytes:           0x10 + 0x100 + 4,
		InitializedBytes:       0x10 + 4,
		LoadedInitializedBytes: 0x10 + 4,
	}, stats)

	writer := jwriter.NewWriter()
	e.m.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())
	dump := string(writer.Bytes())
	require.Contains(t, dump, "\".text\"")
	require.Contains(t, dump, "byteMapped")
}
