package mem

import (
	"io"

	cerrors "github.com/cockroachdb/errors"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/mem/store"
)

// checkBlockSize enforces the per-block and whole-binary size budgets.
func (m *Map) checkBlockSize(length uint64, initialized bool) error {
	limit := MaxUninitializedBlockSize
	if initialized {
		limit = MaxInitializedBlockSize
	}
	if length > limit {
		return cerrors.Wrapf(ErrRangeConflict,
			"block exceeds the maximum block size of %d GByte(s)", limit>>GByteShiftFactor)
	}
	if m.NumAddresses()+length > MaxBinarySize {
		return cerrors.Wrapf(ErrRangeConflict,
			"total covered bytes would exceed the maximum binary size of %d GBytes", MaxBinarySizeGB)
	}
	return nil
}

// checkRange validates a new block range in a memory (non-overlay) space:
// known space, non-zero length, no address overflow, no image base crossing
// in the default space, and no intersection with existing coverage.
func (m *Map) checkRange(start address.Address, length uint64) error {
	space := start.Space()
	if space == nil {
		return cerrors.Newf("block start address has no space")
	}
	if space.IsOverlay() {
		return cerrors.Newf("block may not be created in an overlay space: %s", start)
	}
	if m.factory.Space(space.Name()) != space {
		return cerrors.Newf("block may not be created in an unrecognized address space: %s", start)
	}
	if length == 0 {
		return cerrors.Newf("block must have a non-zero length")
	}
	end, err := start.Add(length - 1)
	if err != nil {
		return err
	}
	if m.program != nil && space == m.factory.DefaultSpace() {
		base := m.program.ImageBase()
		if !base.IsZero() && start.Compare(base) < 0 && end.Compare(base) >= 0 {
			return cerrors.Wrapf(ErrRangeConflict,
				"block may not span the image base address (%s)", base)
		}
	}
	if m.Intersects(start, end) {
		return cerrors.Wrapf(ErrRangeConflict,
			"part of range [%s, %s] already exists in memory", start, end)
	}
	return nil
}

// createOverlaySpace allocates a fresh overlay space shadowing start's space
// over the new block's range and rewrites start into it.
func (m *Map) createOverlaySpace(name string, start address.Address, length uint64) (address.Address, error) {
	space := start.Space()
	if space.IsOverlay() {
		return address.Address{}, cerrors.Newf("an overlay block may not be overlaid: %s", start)
	}
	if length == 0 {
		return address.Address{}, cerrors.Newf("block must have a non-zero length")
	}
	if _, err := start.Add(length - 1); err != nil {
		return address.Address{}, err
	}
	ovSpace, err := m.factory.CreateOverlaySpace(name, space, start.Offset(), start.Offset()+length-1)
	if err != nil {
		return address.Address{}, err
	}
	return ovSpace.Address(start.Offset()), nil
}

// finishCreate rebuilds after a successful store create and reports the new
// block.
func (m *Map) finishCreate(rec store.Record) (*Block, error) {
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return nil, err
	}
	m.snap.Lock()
	b, _ := m.byID.Get(rec.ID)
	m.snap.Unlock()
	m.fireBlockAdded(b)
	DebugValidate(m)
	return b, nil
}

// CreateInitializedBlock creates an initialized block filled with the given
// byte value. With overlay set, the block lands in a freshly created overlay
// space shadowing start's space.
func (m *Map) CreateInitializedBlock(name string, start address.Address, length uint64,
	fill byte, monitor Monitor, overlay bool) (*Block, error) {

	var src io.Reader
	if fill != 0 {
		src = fillReader(fill)
	}
	return m.CreateInitializedBlockFromReader(name, start, src, length, monitor, overlay)
}

// CreateInitializedBlockFromReader creates an initialized block whose bytes
// come from src, zero-filled where src is nil or runs short. A monitor may
// cancel the stream; cancellation surfaces as ErrCancelled and the block is
// not committed.
func (m *Map) CreateInitializedBlockFromReader(name string, start address.Address, src io.Reader,
	length uint64, monitor Monitor, overlay bool) (*Block, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkBlockSize(length, true); err != nil {
		return nil, err
	}
	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	if monitor != nil && src != nil {
		src = monitoredReader{r: src, monitor: monitor}
	}
	var err error
	if overlay {
		if start, err = m.createOverlaySpace(name, start, length); err != nil {
			return nil, err
		}
	} else if err = m.checkRange(start, length); err != nil {
		return nil, err
	}

	typ := store.TypeDefault
	if overlay {
		typ = store.TypeOverlay
	}
	rec, err := m.store.CreateBlock(typ, name, start, length, address.Address{}, true, store.PermRead, src)
	if err != nil {
		if cerrors.Is(err, ErrCancelled) {
			return nil, err
		}
		m.dbError(err)
		return nil, err
	}
	return m.finishCreate(rec)
}

// CreateUninitializedBlock creates a block with no backing bytes.
func (m *Map) CreateUninitializedBlock(name string, start address.Address, length uint64,
	overlay bool) (*Block, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkBlockSize(length, false); err != nil {
		return nil, err
	}
	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	var err error
	if overlay {
		if start, err = m.createOverlaySpace(name, start, length); err != nil {
			return nil, err
		}
	} else if err = m.checkRange(start, length); err != nil {
		return nil, err
	}

	typ := store.TypeDefault
	if overlay {
		typ = store.TypeOverlay
	}
	rec, err := m.store.CreateBlock(typ, name, start, length, address.Address{}, false, store.PermRead, nil)
	if err != nil {
		m.dbError(err)
		return nil, err
	}
	return m.finishCreate(rec)
}

// CreateBitMappedBlock creates a block exposing one byte per bit of the
// target range starting at target.
func (m *Map) CreateBitMappedBlock(name string, start, target address.Address,
	length uint64) (*Block, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkBlockSize(length, false); err != nil {
		return nil, err
	}
	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	if err := m.checkRange(start, length); err != nil {
		return nil, err
	}
	if _, err := target.Add((length - 1) / 8); err != nil {
		return nil, err
	}

	rec, err := m.store.CreateBlock(store.TypeBitMapped, name, start, length, target, false, store.PermRead, nil)
	if err != nil {
		m.dbError(err)
		return nil, err
	}
	return m.finishCreate(rec)
}

// CreateByteMappedBlock creates a block forwarding bytes 1:1 to the target
// range starting at target.
func (m *Map) CreateByteMappedBlock(name string, start, target address.Address,
	length uint64) (*Block, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkBlockSize(length, false); err != nil {
		return nil, err
	}
	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	if err := m.checkRange(start, length); err != nil {
		return nil, err
	}
	if _, err := target.Add(length - 1); err != nil {
		return nil, err
	}

	rec, err := m.store.CreateBlock(store.TypeByteMapped, name, start, length, target, false, store.PermRead, nil)
	if err != nil {
		m.dbError(err)
		return nil, err
	}
	return m.finishCreate(rec)
}

// CreateBlockCopy creates a new block with the kind, permissions and
// initialization state of an existing block, at a new range. Initialized
// copies start zero-filled.
func (m *Map) CreateBlockCopy(b *Block, name string, start address.Address,
	length uint64) (*Block, error) {

	m.lock.Lock()
	defer m.lock.Unlock()

	cur, err := m.resolve(b)
	if err != nil {
		return nil, err
	}
	if err := m.checkBlockSize(length, cur.rec.Initialized); err != nil {
		return nil, err
	}
	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	if err := m.checkRange(start, length); err != nil {
		return nil, err
	}

	rec, err := m.store.CreateBlock(cur.rec.Type, name, start, length, cur.rec.Target,
		cur.rec.Initialized, cur.rec.Perms, nil)
	if err != nil {
		m.dbError(err)
		return nil, err
	}
	return m.finishCreate(rec)
}
