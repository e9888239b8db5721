package address

import (
	"sync"

	cerrors "github.com/cockroachdb/errors"
)

// Factory creates and resolves address spaces. Memory spaces are registered
// up front; overlay spaces come and go as overlay blocks are created and
// removed.
type Factory struct {
	mu          sync.Mutex
	spaces      map[string]*Space
	ordered     []*Space
	def         *Space
	nextOrdinal int
}

// NewFactory builds a factory whose default space has the given name and
// highest legal offset.
func NewFactory(defaultSpace string, maxOffset uint64) *Factory {
	f := &Factory{spaces: make(map[string]*Space)}
	s := &Space{name: defaultSpace, typ: TypeMemory, maxOffset: maxOffset}
	f.register(s)
	f.def = s
	return f
}

func (f *Factory) register(s *Space) {
	s.ordinal = f.nextOrdinal
	f.nextOrdinal++
	f.spaces[s.name] = s
	f.ordered = append(f.ordered, s)
}

// AddMemorySpace registers an additional memory space.
func (f *Factory) AddMemorySpace(name string, maxOffset uint64) (*Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.spaces[name]; ok {
		return nil, cerrors.Wrapf(ErrDuplicateName, "space %q", name)
	}
	s := &Space{name: name, typ: TypeMemory, maxOffset: maxOffset}
	f.register(s)
	return s, nil
}

// Space resolves a space by name, returning nil if unknown.
func (f *Factory) Space(name string) *Space {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spaces[name]
}

// DefaultSpace returns the factory's default memory space.
func (f *Factory) DefaultSpace() *Space { return f.def }

// CreateOverlaySpace creates an overlay shadowing base over the inclusive
// offset window [minOffset, maxOffset]. The name must not collide with any
// existing space.
func (f *Factory) CreateOverlaySpace(name string, base *Space, minOffset, maxOffset uint64) (*Space, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if base == nil || base.IsOverlay() {
		return nil, cerrors.Newf("overlay base must be a memory space")
	}
	if _, ok := f.spaces[name]; ok {
		return nil, cerrors.Wrapf(ErrDuplicateName, "space %q", name)
	}
	s := &Space{
		name:      name,
		typ:       TypeOverlay,
		minOffset: minOffset,
		maxOffset: maxOffset,
		base:      base,
	}
	f.register(s)
	return s, nil
}

// RemoveOverlaySpace drops an overlay space that no longer hosts blocks.
// Removing a memory space is a programming error and is rejected.
func (f *Factory) RemoveOverlaySpace(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.spaces[name]
	if !ok {
		return cerrors.Newf("no address space named %q", name)
	}
	if !s.IsOverlay() {
		return cerrors.Newf("space %q is not an overlay space", name)
	}
	delete(f.spaces, name)
	for i, o := range f.ordered {
		if o == s {
			f.ordered = append(f.ordered[:i], f.ordered[i+1:]...)
			break
		}
	}
	return nil
}

// RenameOverlaySpace renames an overlay space, keeping its ordering position.
func (f *Factory) RenameOverlaySpace(oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.spaces[oldName]
	if !ok {
		return cerrors.Newf("no address space named %q", oldName)
	}
	if !s.IsOverlay() {
		return cerrors.Newf("space %q is not an overlay space", oldName)
	}
	if _, ok := f.spaces[newName]; ok {
		return cerrors.Wrapf(ErrDuplicateName, "space %q", newName)
	}
	delete(f.spaces, oldName)
	s.name = newName
	f.spaces[newName] = s
	return nil
}

// Spaces returns all registered spaces in creation order.
func (f *Factory) Spaces() []*Space {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Space(nil), f.ordered...)
}
