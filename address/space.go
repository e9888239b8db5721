package address

import "fmt"

// SpaceType distinguishes the two kinds of spaces a Factory can produce.
type SpaceType uint8

const (
	// TypeMemory is an ordinary memory space. Blocks may be created anywhere
	// within its legal offsets.
	TypeMemory SpaceType = iota
	// TypeOverlay is a shadow of a memory space covering a fixed offset
	// window. Overlay blocks are the only residents of an overlay space.
	TypeOverlay
)

func (t SpaceType) String() string {
	switch t {
	case TypeMemory:
		return "memory"
	case TypeOverlay:
		return "overlay"
	}
	return fmt.Sprintf("SpaceType(%d)", uint8(t))
}

// Space is a named domain of addresses with its own offset universe. Spaces
// are created and owned by a Factory; two Space pointers are the same space
// iff they are equal.
type Space struct {
	name      string
	typ       SpaceType
	ordinal   int
	minOffset uint64
	maxOffset uint64
	base      *Space
}

func (s *Space) Name() string    { return s.name }
func (s *Space) Type() SpaceType { return s.typ }

// IsOverlay returns true if this space shadows a memory space.
func (s *Space) IsOverlay() bool { return s.typ == TypeOverlay }

// Base returns the memory space this overlay shadows, or nil for a memory
// space.
func (s *Space) Base() *Space { return s.base }

// MinOffset and MaxOffset bound the legal offsets of the space, inclusive.
func (s *Space) MinOffset() uint64 { return s.minOffset }
func (s *Space) MaxOffset() uint64 { return s.maxOffset }

// Address builds an address in this space. The offset must be a legal offset
// of the space; out-of-range offsets are a programming error.
func (s *Space) Address(offset uint64) Address {
	if offset < s.minOffset || offset > s.maxOffset {
		panic(fmt.Sprintf("offset %#x is outside the legal offsets of space %s [%#x, %#x]",
			offset, s.name, s.minOffset, s.maxOffset))
	}
	return Address{space: s, offset: offset}
}

// Min returns the lowest legal address of the space.
func (s *Space) Min() Address { return Address{space: s, offset: s.minOffset} }

// Max returns the highest legal address of the space.
func (s *Space) Max() Address { return Address{space: s, offset: s.maxOffset} }

func (s *Space) String() string { return s.name }
