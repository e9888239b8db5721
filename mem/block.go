package mem

import (
	"io"

	cerrors "github.com/cockroachdb/errors"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/mem/store"
)

// Block is one contiguous address range of the memory map. A Block is a view
// over a persisted record as it stood when the Block was obtained; after a
// later mutation its accessors may report stale values. Map operations that
// take a Block, and SetName and SetPermissions, resolve it against the map's
// current snapshot by id, so a Block whose record was removed fails there
// with ErrNotFound. Byte, Bytes and PutByte use the Block's own record and do
// not check membership.
//
// Blocks hold a non-owning handle to their map and must not be used after
// the map's store is closed.
type Block struct {
	mem *Map
	rec store.Record
}

func (b *Block) ID() uint32            { return b.rec.ID }
func (b *Block) Name() string          { return b.rec.Name }
func (b *Block) Type() store.BlockType { return b.rec.Type }
func (b *Block) Start() address.Address {
	return b.rec.Start
}

// End returns the inclusive upper address of the block.
func (b *Block) End() address.Address { return b.rec.End() }

// Size returns the block length in addressable units.
func (b *Block) Size() uint64 { return b.rec.Length }

func (b *Block) IsInitialized() bool { return b.rec.Initialized }

// IsMapped reports whether the block forwards its bytes into another block's
// range.
func (b *Block) IsMapped() bool { return b.rec.Type.IsMapped() }

func (b *Block) IsOverlay() bool { return b.rec.Type == store.TypeOverlay }

// IsLoaded reports whether the block's backing is part of the program's
// loaded image. Default and overlay blocks are loaded; mapped blocks
// contribute to loaded coverage only through their targets.
func (b *Block) IsLoaded() bool {
	return b.rec.Type == store.TypeDefault || b.rec.Type == store.TypeOverlay
}

// Target returns the lowest target address of a bit- or byte-mapped block,
// and the zero Address for other kinds.
func (b *Block) Target() address.Address { return b.rec.Target }

func (b *Block) Permissions() store.Perms { return b.rec.Perms }
func (b *Block) IsRead() bool             { return b.rec.Perms&store.PermRead != 0 }
func (b *Block) IsWrite() bool            { return b.rec.Perms&store.PermWrite != 0 }
func (b *Block) IsExecute() bool          { return b.rec.Perms&store.PermExecute != 0 }
func (b *Block) IsVolatile() bool         { return b.rec.Perms&store.PermVolatile != 0 }

func (b *Block) Contains(addr address.Address) bool {
	return addr.Space() == b.rec.Start.Space() &&
		addr.Offset() >= b.rec.Start.Offset() &&
		addr.Offset() <= b.rec.Start.Offset()+b.rec.Length-1
}

// mappedSpan returns the number of target bytes a mapped block covers.
func (b *Block) mappedSpan() uint64 {
	if b.rec.Type == store.TypeBitMapped {
		return (b.rec.Length + 7) / 8
	}
	return b.rec.Length
}

// Byte reads the single byte at addr.
func (b *Block) Byte(addr address.Address) (byte, error) {
	var buf [1]byte
	n, err := b.bytes(addr, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "could not read byte at %s", addr)
	}
	return buf[0], nil
}

// Bytes fills dst starting at addr, stopping at the block end. It returns
// the count read.
func (b *Block) Bytes(addr address.Address, dst []byte) (int, error) {
	return b.bytes(addr, dst)
}

func (b *Block) bytes(addr address.Address, dst []byte) (int, error) {
	if !b.Contains(addr) {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "address %s is outside block %q", addr, b.rec.Name)
	}
	off := addr.Diff(b.rec.Start)
	avail := b.rec.Length - off
	if uint64(len(dst)) > avail {
		dst = dst[:avail]
	}
	if len(dst) == 0 {
		return 0, nil
	}

	switch b.rec.Type {
	case store.TypeDefault, store.TypeOverlay:
		if !b.rec.Initialized {
			return 0, cerrors.Wrapf(ErrMemoryAccess, "block %q is uninitialized", b.rec.Name)
		}
		n, err := b.mem.store.ReadBytes(b.rec.ID, off, dst)
		if err != nil {
			return n, err
		}
		return n, nil

	case store.TypeByteMapped:
		target, err := b.rec.Target.Add(off)
		if err != nil {
			return 0, cerrors.Wrapf(ErrMemoryAccess, "mapped target overflow for block %q", b.rec.Name)
		}
		return b.mem.readMapped(target, dst)

	case store.TypeBitMapped:
		return b.readBits(off, dst)
	}
	return 0, cerrors.Wrapf(ErrMemoryAccess, "unknown block type %s", b.rec.Type)
}

// readBits expands target bits into 0x00/0x01 destination bytes, LSB first
// within each source byte. off is the bit index of the first destination
// byte.
func (b *Block) readBits(off uint64, dst []byte) (int, error) {
	firstByte := off / 8
	lastByte := (off + uint64(len(dst)) - 1) / 8
	tmp := make([]byte, lastByte-firstByte+1)

	targetStart, err := b.rec.Target.Add(firstByte)
	if err != nil {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "mapped target overflow for block %q", b.rec.Name)
	}
	n, err := b.mem.readMapped(targetStart, tmp)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, cerrors.Wrapf(ErrMemoryAccess, "unable to read mapped bytes for block %q", b.rec.Name)
	}

	bitsAvail := firstByte*8 + uint64(n)*8 - off
	produce := uint64(len(dst))
	if bitsAvail < produce {
		produce = bitsAvail
	}
	for i := uint64(0); i < produce; i++ {
		bit := off + i
		dst[i] = (tmp[bit/8-firstByte] >> (bit % 8)) & 1
	}
	return int(produce), nil
}

// PutByte writes the single byte at addr.
func (b *Block) PutByte(addr address.Address, value byte) error {
	n, err := b.putBytes(addr, []byte{value})
	if err != nil {
		return err
	}
	if n != 1 {
		return cerrors.Wrapf(ErrMemoryAccess, "could not write byte at %s", addr)
	}
	return nil
}

func (b *Block) putBytes(addr address.Address, src []byte) (int, error) {
	if !b.Contains(addr) {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "address %s is outside block %q", addr, b.rec.Name)
	}
	off := addr.Diff(b.rec.Start)
	avail := b.rec.Length - off
	if uint64(len(src)) > avail {
		src = src[:avail]
	}
	if len(src) == 0 {
		return 0, nil
	}

	switch b.rec.Type {
	case store.TypeDefault, store.TypeOverlay:
		if !b.rec.Initialized {
			return 0, cerrors.Wrapf(ErrMemoryAccess, "block %q is uninitialized", b.rec.Name)
		}
		return b.mem.store.WriteBytes(b.rec.ID, off, src)

	case store.TypeByteMapped:
		target, err := b.rec.Target.Add(off)
		if err != nil {
			return 0, cerrors.Wrapf(ErrMemoryAccess, "mapped target overflow for block %q", b.rec.Name)
		}
		return b.mem.writeMapped(target, src)

	case store.TypeBitMapped:
		return b.writeBits(off, src)
	}
	return 0, cerrors.Wrapf(ErrMemoryAccess, "unknown block type %s", b.rec.Type)
}

// writeBits read-modify-writes target bytes, one bit per source byte. Every
// source byte must be 0x00 or 0x01.
func (b *Block) writeBits(off uint64, src []byte) (int, error) {
	for _, v := range src {
		if v > 1 {
			return 0, cerrors.Wrapf(ErrMemoryAccess,
				"bit-mapped block %q accepts only 0x00 and 0x01 values", b.rec.Name)
		}
	}
	var buf [1]byte
	for i, v := range src {
		bit := off + uint64(i)
		target, err := b.rec.Target.Add(bit / 8)
		if err != nil {
			return i, cerrors.Wrapf(ErrMemoryAccess, "mapped target overflow for block %q", b.rec.Name)
		}
		if n, err := b.mem.readMapped(target, buf[:]); err != nil || n != 1 {
			if err == nil {
				err = cerrors.Wrapf(ErrMemoryAccess, "unable to read mapped byte at %s", target)
			}
			return i, err
		}
		mask := byte(1) << (bit % 8)
		if v == 1 {
			buf[0] |= mask
		} else {
			buf[0] &^= mask
		}
		if n, err := b.mem.writeMapped(target, buf[:]); err != nil || n != 1 {
			if err == nil {
				err = cerrors.Wrapf(ErrMemoryAccess, "unable to write mapped byte at %s", target)
			}
			return i, err
		}
	}
	return len(src), nil
}

// blockByteReader streams a block's backing bytes out of the store.
type blockByteReader struct {
	st        store.Store
	id        uint32
	off       uint64
	remaining uint64
}

func (r *blockByteReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.st.ReadBytes(r.id, r.off, p)
	r.off += uint64(n)
	r.remaining -= uint64(n)
	return n, err
}

// split persists a second record covering [at, end] and truncates this block
// to [start, at-1]. Initialization state and permissions are inherited.
func (b *Block) split(at address.Address) error {
	offset := at.Diff(b.rec.Start)
	tailLen := b.rec.Length - offset

	var src io.Reader
	if b.rec.Initialized {
		src = &blockByteReader{st: b.mem.store, id: b.rec.ID, off: offset, remaining: tailLen}
	}
	_, err := b.mem.store.CreateBlock(b.rec.Type, b.rec.Name+".split", at, tailLen,
		address.Address{}, b.rec.Initialized, b.rec.Perms, src)
	if err != nil {
		return err
	}
	b.rec.Length = offset
	return b.mem.store.Update(b.rec)
}

// join absorbs other, which the caller has verified to be the same kind,
// same initialization state, and immediately adjacent above this block.
// The byte migration, record update, and record delete are separate store
// calls; a failure between them leaves a window the caller surfaces as a
// fatal store error rather than repairing.
func (b *Block) join(other *Block) error {
	oldLen := b.rec.Length
	if other.rec.Initialized {
		buf := make([]byte, 1<<16)
		var moved uint64
		for moved < other.rec.Length {
			n := uint64(len(buf))
			if other.rec.Length-moved < n {
				n = other.rec.Length - moved
			}
			if _, err := b.mem.store.ReadBytes(other.rec.ID, moved, buf[:n]); err != nil {
				return err
			}
			if _, err := b.mem.store.WriteBytes(b.rec.ID, oldLen+moved, buf[:n]); err != nil {
				return err
			}
			moved += n
		}
	}
	b.rec.Length += other.rec.Length
	if err := b.mem.store.Update(b.rec); err != nil {
		return err
	}
	return b.mem.store.Delete(other.rec.ID)
}

// initialize allocates backing bytes filled with the given value. The fill
// is written unconditionally so bytes from an earlier initialized life of
// the block cannot resurface.
func (b *Block) initialize(fill byte) error {
	buf := make([]byte, 1<<16)
	for i := range buf {
		buf[i] = fill
	}
	var written uint64
	for written < b.rec.Length {
		n := uint64(len(buf))
		if b.rec.Length-written < n {
			n = b.rec.Length - written
		}
		if _, err := b.mem.store.WriteBytes(b.rec.ID, written, buf[:n]); err != nil {
			return err
		}
		written += n
	}
	b.rec.Initialized = true
	return b.mem.store.Update(b.rec)
}

func (b *Block) uninitialize() error {
	b.rec.Initialized = false
	return b.mem.store.Update(b.rec)
}

func (b *Block) setStart(newStart address.Address) error {
	b.rec.Start = newStart
	return b.mem.store.Update(b.rec)
}

// SetName renames the block. Renaming an overlay block renames its overlay
// space as well.
func (b *Block) SetName(name string) error {
	m := b.mem
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return err
	}
	cur, err := m.resolve(b)
	if err != nil {
		return err
	}
	if cur.rec.Type == store.TypeOverlay {
		if err := m.factory.RenameOverlaySpace(cur.rec.Start.Space().Name(), name); err != nil {
			return err
		}
	}
	cur.rec.Name = name
	if err := m.store.Update(cur.rec); err != nil {
		m.dbError(err)
		return err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return err
	}
	m.post(Change{Type: ChangeBlockChanged, Start: cur.rec.Start, End: cur.rec.End()})
	return nil
}

// SetPermissions replaces the block's permission bits.
func (b *Block) SetPermissions(perms store.Perms) error {
	m := b.mem
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return err
	}
	cur, err := m.resolve(b)
	if err != nil {
		return err
	}
	cur.rec.Perms = perms
	if err := m.store.Update(cur.rec); err != nil {
		m.dbError(err)
		return err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return err
	}
	m.post(Change{Type: ChangeBlockChanged, Start: cur.rec.Start, End: cur.rec.End()})
	return nil
}
