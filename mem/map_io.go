package mem

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/endian"
)

func (m *Map) orderOf(order []endian.Order) endian.Order {
	if len(order) > 0 {
		return order[0]
	}
	return m.defaultOrder
}

// ReadByte reads the byte at addr.
func (m *Map) ReadByte(addr address.Address) (byte, error) {
	if h := m.liveHandler(); h != nil {
		return h.ReadByte(addr)
	}
	m.lock.RLock()
	defer m.lock.RUnlock()

	b := m.blockAt(addr)
	if b == nil {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "address %s does not exist in memory", addr)
	}
	return b.Byte(addr)
}

// ReadBytes fills dst from addr, spanning block boundaries while the range
// stays contiguous and each block is initialized or mapped. It returns the
// count read, failing only when nothing could be read.
func (m *Map) ReadBytes(addr address.Address, dst []byte) (int, error) {
	if h := m.liveHandler(); h != nil {
		return h.ReadBytes(addr, dst)
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.readMapped(addr, dst)
}

func (m *Map) readExact(addr address.Address, buf []byte, what string) error {
	n, err := m.ReadBytes(addr, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return cerrors.Wrapf(ErrMemoryAccess, "could not get %s at %s", what, addr)
	}
	return nil
}

// ReadUint16 reads a 16-bit value at addr, decoded with the given byte order
// (the map's default order when omitted).
func (m *Map) ReadUint16(addr address.Address, order ...endian.Order) (uint16, error) {
	var buf [2]byte
	if err := m.readExact(addr, buf[:], "short"); err != nil {
		return 0, err
	}
	return m.orderOf(order).Uint16(buf[:]), nil
}

// ReadUint32 reads a 32-bit value at addr.
func (m *Map) ReadUint32(addr address.Address, order ...endian.Order) (uint32, error) {
	var buf [4]byte
	if err := m.readExact(addr, buf[:], "int"); err != nil {
		return 0, err
	}
	return m.orderOf(order).Uint32(buf[:]), nil
}

// ReadUint64 reads a 64-bit value at addr.
func (m *Map) ReadUint64(addr address.Address, order ...endian.Order) (uint64, error) {
	var buf [8]byte
	if err := m.readExact(addr, buf[:], "long"); err != nil {
		return 0, err
	}
	return m.orderOf(order).Uint64(buf[:]), nil
}

// ReadUint16s decodes up to len(dst) 16-bit values starting at addr,
// returning the number of whole elements read. Short reads are allowed; a
// read shorter than one element fails.
func (m *Map) ReadUint16s(addr address.Address, dst []uint16, order ...endian.Order) (int, error) {
	buf := make([]byte, 2*len(dst))
	n, err := m.ReadBytes(addr, buf)
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "could not read shorts at %s", addr)
	}
	return m.orderOf(order).Uint16s(buf[:n], dst), nil
}

// ReadUint32s decodes up to len(dst) 32-bit values starting at addr.
func (m *Map) ReadUint32s(addr address.Address, dst []uint32, order ...endian.Order) (int, error) {
	buf := make([]byte, 4*len(dst))
	n, err := m.ReadBytes(addr, buf)
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "could not read ints at %s", addr)
	}
	return m.orderOf(order).Uint32s(buf[:n], dst), nil
}

// ReadUint64s decodes up to len(dst) 64-bit values starting at addr.
func (m *Map) ReadUint64s(addr address.Address, dst []uint64, order ...endian.Order) (int, error) {
	buf := make([]byte, 8*len(dst))
	n, err := m.ReadBytes(addr, buf)
	if err != nil {
		return 0, err
	}
	if n < 8 {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "could not read longs at %s", addr)
	}
	return m.orderOf(order).Uint64s(buf[:n], dst), nil
}

// WriteByte writes one byte at addr.
func (m *Map) WriteByte(addr address.Address, value byte) error {
	if h := m.liveHandler(); h != nil {
		if err := h.WriteByte(addr, value); err != nil {
			return err
		}
		m.fireBytesChanged(addr, 1)
		return nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	b := m.blockAt(addr)
	if b == nil {
		return cerrors.Wrapf(ErrMemoryAccess, "address %s does not exist in memory", addr)
	}
	if err := m.checkMemoryWrite(addr, 1); err != nil {
		return err
	}
	if err := b.PutByte(addr, value); err != nil {
		return err
	}
	m.fireBytesChanged(addr, 1)
	return nil
}

// WriteBytes writes src starting at addr. The entire span is pre-flighted
// block by block before any byte is mutated: every address must be covered
// by an initialized or mapped block and must not conflict with a decoded
// instruction.
func (m *Map) WriteBytes(addr address.Address, src []byte) error {
	if h := m.liveHandler(); h != nil {
		n, err := h.WriteBytes(addr, src)
		if err != nil {
			return err
		}
		m.fireBytesChanged(addr, n)
		return nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.preflightWrite(addr, len(src)); err != nil {
		return err
	}
	if err := m.checkMemoryWrite(addr, len(src)); err != nil {
		return err
	}

	a := addr
	written := 0
	for written < len(src) {
		b := m.blockAt(a)
		n, err := b.putBytes(a, src[written:])
		if err != nil {
			return err
		}
		written += n
		if written >= len(src) {
			break
		}
		next, err := a.Add(uint64(n))
		if err != nil {
			return cerrors.Wrapf(ErrMemoryAccess, "attempted to write beyond the address space")
		}
		a = next
	}
	m.fireBytesChanged(addr, len(src))
	return nil
}

// preflightWrite walks the blocks covering [addr, addr+size-1] and fails if
// any byte of the span is uncovered or unwritable, before anything mutates.
func (m *Map) preflightWrite(addr address.Address, size int) error {
	a := addr
	n := uint64(size)
	for n > 0 {
		b := m.blockAt(a)
		if b == nil {
			return cerrors.Wrapf(ErrMemoryAccess, "address %s does not exist in memory", a)
		}
		if !b.IsInitialized() && !b.IsMapped() {
			return cerrors.Wrapf(ErrMemoryAccess, "block %q is uninitialized", b.rec.Name)
		}
		avail := b.rec.Length - a.Diff(b.rec.Start)
		if n <= avail {
			break
		}
		n -= avail
		next, err := b.End().Add(1)
		if err != nil {
			return cerrors.Wrapf(ErrMemoryAccess, "attempted to write beyond the address space")
		}
		a = next
	}
	return nil
}

// WriteUint16 encodes a 16-bit value with the given byte order (default
// order when omitted) and writes it at addr.
func (m *Map) WriteUint16(addr address.Address, value uint16, order ...endian.Order) error {
	var buf [2]byte
	m.orderOf(order).PutUint16(buf[:], value)
	return m.WriteBytes(addr, buf[:])
}

// WriteUint32 encodes a 32-bit value and writes it at addr.
func (m *Map) WriteUint32(addr address.Address, value uint32, order ...endian.Order) error {
	var buf [4]byte
	m.orderOf(order).PutUint32(buf[:], value)
	return m.WriteBytes(addr, buf[:])
}

// WriteUint64 encodes a 64-bit value and writes it at addr.
func (m *Map) WriteUint64(addr address.Address, value uint64, order ...endian.Order) error {
	var buf [8]byte
	m.orderOf(order).PutUint64(buf[:], value)
	return m.WriteBytes(addr, buf[:])
}
