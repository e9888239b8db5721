package mem

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/mem/store"
)

// Validatable is used by DebugValidate to act upon all types with a Validate
// method.
type Validatable interface {
	Validate() error
}

// Validate performs internal consistency checks over the published snapshot:
// block ordering and disjointness, coverage set derivation, mapped target
// bounds, image base separation, and size budgets. When the implementation
// is functioning correctly this cannot fail, but it may assist in diagnosing
// issues.
func (m *Map) Validate() error {
	m.snap.Lock()
	defer m.snap.Unlock()

	addrSet := address.NewSet()
	for i, b := range m.blocks {
		end := b.rec.End()
		if i > 0 {
			prev := m.blocks[i-1]
			if prev.rec.Start.Compare(b.rec.Start) >= 0 {
				return cerrors.Newf("blocks out of order at index %d", i)
			}
			if prev.rec.Start.Space() == b.rec.Start.Space() &&
				prev.rec.End().Compare(b.rec.Start) >= 0 {
				return cerrors.Newf("blocks %q and %q overlap", prev.rec.Name, b.rec.Name)
			}
		}
		if b.IsMapped() {
			if _, err := b.rec.Target.Add(b.mappedSpan() - 1); err != nil {
				return cerrors.Newf("mapped block %q target range overruns its space", b.rec.Name)
			}
		}
		limit := MaxUninitializedBlockSize
		if b.rec.Initialized {
			limit = MaxInitializedBlockSize
		}
		if b.rec.Length > limit {
			return cerrors.Newf("block %q exceeds its size limit", b.rec.Name)
		}
		if m.program != nil && b.rec.Start.Space() == m.factory.DefaultSpace() {
			base := m.program.ImageBase()
			if !base.IsZero() && b.rec.Start.Compare(base) < 0 && end.Compare(base) >= 0 {
				return cerrors.Newf("block %q spans the image base", b.rec.Name)
			}
		}
		addrSet.AddRange(b.rec.Start, end)
	}

	if !addrSet.Equal(m.addrSet) {
		return cerrors.Newf("address set does not match block coverage")
	}
	if m.addrSet.NumAddresses() > MaxBinarySize {
		return cerrors.Newf("total covered bytes exceed the maximum binary size")
	}

	// The initialized sets must be supersets of the directly initialized
	// block ranges and subsets of total coverage.
	for _, b := range m.blocks {
		if b.rec.Initialized && b.rec.Type != store.TypeBitMapped && b.rec.Type != store.TypeByteMapped {
			if !m.allInitSet.ContainsRange(b.rec.Start, b.rec.End()) {
				return cerrors.Newf("initialized block %q missing from initialized coverage", b.rec.Name)
			}
		}
	}
	if !m.allInitSet.Subtract(addrSet).IsEmpty() {
		return cerrors.Newf("initialized coverage exceeds block coverage")
	}
	if !m.loadedInitSet.Subtract(m.allInitSet).IsEmpty() {
		return cerrors.Newf("loaded initialized coverage exceeds initialized coverage")
	}
	return nil
}
