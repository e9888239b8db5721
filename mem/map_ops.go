package mem

import (
	"math"

	cerrors "github.com/cockroachdb/errors"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/mem/store"
)

// MoveBlock relocates a block to newStart. The destination must not
// intersect any other block, may not span the image base in the default
// space, may not be an overlay space, and the operation
// is forbidden while live memory is active. After the move, the program is
// asked to migrate artifacts from the old range.
func (m *Map) MoveBlock(b *Block, newStart address.Address, monitor Monitor) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return err
	}
	if m.liveHandler() != nil {
		return cerrors.Wrapf(ErrLiveMemory, "move")
	}
	cur, err := m.resolve(b)
	if err != nil {
		return err
	}
	if cur.rec.Type == store.TypeOverlay {
		return cerrors.Wrapf(ErrInvalidKind, "overlay blocks cannot be moved")
	}
	if newStart.Space().IsOverlay() {
		return cerrors.Wrapf(ErrInvalidKind, "cannot move a block into an overlay space")
	}

	oldStart := cur.rec.Start
	newEnd, err := newStart.Add(cur.rec.Length - 1)
	if err != nil {
		return err
	}
	if m.program != nil && newStart.Space() == m.factory.DefaultSpace() {
		base := m.program.ImageBase()
		if !base.IsZero() && newStart.Compare(base) < 0 && newEnd.Compare(base) >= 0 {
			return cerrors.Wrapf(ErrRangeConflict,
				"block may not span the image base address (%s)", base)
		}
	}
	m.snap.Lock()
	others := m.addrSet.Clone()
	m.snap.Unlock()
	others.DeleteRange(cur.rec.Start, cur.rec.End())
	if others.Intersects(newStart, newEnd) {
		return cerrors.Wrapf(ErrRangeConflict, "block move conflicts with an existing memory block")
	}

	if err := cur.setStart(newStart); err != nil {
		m.dbError(err)
		return err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return err
	}
	if m.program != nil {
		if err := m.program.MoveAddressRange(oldStart, newStart, cur.rec.Length, monitor); err != nil {
			return err
		}
	}
	m.post(Change{Type: ChangeBlockMoved, Start: newStart, End: newEnd, Old: oldStart})
	DebugValidate(m)
	return nil
}

// SplitBlock splits a block in two at the given address, which must lie
// strictly inside the block. Overlay and mapped blocks cannot be split.
func (m *Map) SplitBlock(b *Block, at address.Address) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return err
	}
	if m.liveHandler() != nil {
		return cerrors.Wrapf(ErrLiveMemory, "split")
	}
	cur, err := m.resolve(b)
	if err != nil {
		return err
	}
	if !cur.Contains(at) {
		return cerrors.Newf("block must contain the split address %s", at)
	}
	if at.Equal(cur.rec.Start) {
		return cerrors.Newf("split cannot be done on the block start address")
	}
	switch cur.rec.Type {
	case store.TypeOverlay:
		return cerrors.Wrapf(ErrInvalidKind, "split cannot be done on an overlay block")
	case store.TypeBitMapped:
		return cerrors.Wrapf(ErrInvalidKind, "split cannot be done on a bit-mapped block")
	case store.TypeByteMapped:
		return cerrors.Wrapf(ErrInvalidKind, "split cannot be done on a byte-mapped block")
	}

	oldEnd := cur.rec.End()
	if err := cur.split(at); err != nil {
		m.dbError(err)
		return err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return err
	}
	m.post(Change{Type: ChangeBlockSplit, Start: at, End: oldEnd, Old: cur.rec.Start})
	DebugValidate(m)
	return nil
}

// JoinBlocks combines two adjacent default blocks into one, returning the
// surviving block. The blocks must share kind and initialization state, and
// the combined length must fit a 31-bit quantity.
func (m *Map) JoinBlocks(a, b *Block) (*Block, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	if m.liveHandler() != nil {
		return nil, cerrors.Wrapf(ErrLiveMemory, "join")
	}
	blockOne, err := m.resolve(a)
	if err != nil {
		return nil, err
	}
	blockTwo, err := m.resolve(b)
	if err != nil {
		return nil, err
	}
	if blockOne.rec.Type != blockTwo.rec.Type {
		return nil, cerrors.Wrapf(ErrInvalidKind, "blocks of different kinds cannot be joined")
	}
	if blockOne.rec.Initialized != blockTwo.rec.Initialized {
		return nil, cerrors.Wrapf(ErrInvalidKind,
			"both blocks must be either initialized or uninitialized")
	}
	switch blockOne.rec.Type {
	case store.TypeOverlay:
		return nil, cerrors.Wrapf(ErrInvalidKind, "cannot join overlay blocks")
	case store.TypeBitMapped:
		return nil, cerrors.Wrapf(ErrInvalidKind, "cannot join bit-mapped blocks")
	case store.TypeByteMapped:
		return nil, cerrors.Wrapf(ErrInvalidKind, "cannot join byte-mapped blocks")
	}
	if blockOne.rec.Length+blockTwo.rec.Length > math.MaxInt32 {
		return nil, cerrors.Wrapf(ErrRangeConflict, "blocks are too large to be joined")
	}
	if blockOne.rec.Start.Compare(blockTwo.rec.Start) > 0 {
		blockOne, blockTwo = blockTwo, blockOne
	}
	if !blockOne.rec.End().IsSuccessor(blockTwo.rec.Start) {
		return nil, cerrors.Wrapf(ErrRangeConflict, "blocks are not contiguous")
	}

	oneStart := blockOne.rec.Start
	twoStart := blockTwo.rec.Start
	if err := blockOne.join(blockTwo); err != nil {
		m.dbError(err)
		return nil, err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return nil, err
	}
	joined := m.blockAt(oneStart)
	m.post(Change{Type: ChangeBlocksJoined, Start: oneStart, End: joined.rec.End(), Old: twoStart, New: joined})
	DebugValidate(m)
	return joined, nil
}

// ConvertToInitialized allocates backing bytes for an uninitialized default
// or overlay block, filled with the given value.
func (m *Map) ConvertToInitialized(b *Block, fill byte) (*Block, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	cur, err := m.resolve(b)
	if err != nil {
		return nil, err
	}
	if cur.rec.Initialized {
		return nil, cerrors.Newf("only an uninitialized block may be converted to initialized")
	}
	if cur.rec.Type != store.TypeDefault && cur.rec.Type != store.TypeOverlay {
		return nil, cerrors.Wrapf(ErrInvalidKind, "block of kind %s cannot be initialized", cur.rec.Type)
	}
	if cur.rec.Length > MaxInitializedBlockSize {
		return nil, cerrors.Wrapf(ErrRangeConflict, "block too large to initialize")
	}

	if err := cur.initialize(fill); err != nil {
		m.dbError(err)
		return nil, err
	}
	m.snap.Lock()
	m.allInitSet.AddRange(cur.rec.Start, cur.rec.End())
	m.loadedInitSet.AddRange(cur.rec.Start, cur.rec.End())
	m.snap.Unlock()
	m.post(Change{Type: ChangeBlockChanged, Start: cur.rec.Start, End: cur.rec.End()})
	m.fireBytesChanged(cur.rec.Start, int(cur.rec.Length))
	return cur, nil
}

// ConvertToUninitialized drops the backing bytes of an initialized default
// or overlay block.
func (m *Map) ConvertToUninitialized(b *Block) (*Block, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return nil, err
	}
	cur, err := m.resolve(b)
	if err != nil {
		return nil, err
	}
	if !cur.rec.Initialized {
		return nil, cerrors.Newf("only an initialized block may be converted to uninitialized")
	}
	if cur.rec.Type != store.TypeDefault && cur.rec.Type != store.TypeOverlay {
		return nil, cerrors.Wrapf(ErrInvalidKind, "block of kind %s cannot be uninitialized", cur.rec.Type)
	}

	if err := cur.uninitialize(); err != nil {
		m.dbError(err)
		return nil, err
	}
	m.snap.Lock()
	m.allInitSet.DeleteRange(cur.rec.Start, cur.rec.End())
	m.loadedInitSet.DeleteRange(cur.rec.Start, cur.rec.End())
	m.snap.Unlock()
	m.post(Change{Type: ChangeBlockChanged, Start: cur.rec.Start, End: cur.rec.End()})
	m.fireBytesChanged(cur.rec.Start, int(cur.rec.Length))
	return cur, nil
}

// RemoveBlock deletes a block. If the block was the last resident of an
// overlay space, the space is dropped too.
func (m *Map) RemoveBlock(b *Block, monitor Monitor) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.checkExclusiveAccess(); err != nil {
		return err
	}
	cur, err := m.resolve(b)
	if err != nil {
		return err
	}
	start := cur.rec.Start
	end := cur.rec.End()
	space := start.Space()

	if err := m.store.Delete(cur.rec.ID); err != nil {
		m.dbError(err)
		return err
	}
	if err := m.rebuild(true); err != nil {
		m.dbError(err)
		return err
	}
	m.post(Change{Type: ChangeBlockRemoved, Start: start, End: end})

	if space.IsOverlay() && !m.spaceInUse(space) {
		if err := m.factory.RemoveOverlaySpace(space.Name()); err != nil {
			return err
		}
	}
	DebugValidate(m)
	return nil
}

func (m *Map) spaceInUse(space *address.Space) bool {
	m.snap.Lock()
	defer m.snap.Unlock()
	for _, b := range m.blocks {
		if b.rec.Start.Space() == space {
			return true
		}
	}
	return false
}
