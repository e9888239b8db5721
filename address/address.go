package address

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

// Address is a (space, offset) pair. Addresses are totally ordered: first by
// the creation order of their spaces, then by offset. The zero Address belongs
// to no space and compares below every real address.
type Address struct {
	space  *Space
	offset uint64
}

// Space returns the space this address belongs to, or nil for the zero
// Address.
func (a Address) Space() *Space { return a.space }

// Offset returns the raw offset within the space.
func (a Address) Offset() uint64 { return a.offset }

// IsZero reports whether this is the zero Address (no space).
func (a Address) IsZero() bool { return a.space == nil }

// Compare orders two addresses, returning a negative value, zero, or a
// positive value as a is below, equal to, or above b.
func (a Address) Compare(b Address) int {
	if a.space != b.space {
		ao, bo := -1, -1
		if a.space != nil {
			ao = a.space.ordinal
		}
		if b.space != nil {
			bo = b.space.ordinal
		}
		if ao < bo {
			return -1
		}
		return 1
	}
	switch {
	case a.offset < b.offset:
		return -1
	case a.offset > b.offset:
		return 1
	}
	return 0
}

func (a Address) Equal(b Address) bool { return a.space == b.space && a.offset == b.offset }

// HasSameSpace reports whether both addresses belong to the same space.
func (a Address) HasSameSpace(b Address) bool { return a.space == b.space }

// Add returns a+n, failing with ErrOverflow if the result would leave the
// legal offsets of the space.
func (a Address) Add(n uint64) (Address, error) {
	if n == 0 {
		return a, nil
	}
	off := a.offset + n
	if off < a.offset || off > a.space.maxOffset {
		return Address{}, cerrors.Wrapf(ErrOverflow, "%s + %#x", a, n)
	}
	return Address{space: a.space, offset: off}, nil
}

// Sub returns a-n, failing with ErrOverflow if the result would leave the
// legal offsets of the space.
func (a Address) Sub(n uint64) (Address, error) {
	if n > a.offset || a.offset-n < a.space.minOffset {
		return Address{}, cerrors.Wrapf(ErrOverflow, "%s - %#x", a, n)
	}
	return Address{space: a.space, offset: a.offset - n}, nil
}

// Diff returns the number of addresses between b and a, i.e. a-b. Both
// addresses must be in the same space with a >= b.
func (a Address) Diff(b Address) uint64 {
	if a.space != b.space {
		panic(fmt.Sprintf("cannot subtract addresses in different spaces: %s, %s", a, b))
	}
	if a.offset < b.offset {
		panic(fmt.Sprintf("address difference would be negative: %s - %s", a, b))
	}
	return a.offset - b.offset
}

// Next returns the successor address, or false at the top of the space.
func (a Address) Next() (Address, bool) {
	if a.offset >= a.space.maxOffset {
		return Address{}, false
	}
	return Address{space: a.space, offset: a.offset + 1}, true
}

// Prev returns the predecessor address, or false at the bottom of the space.
func (a Address) Prev() (Address, bool) {
	if a.offset <= a.space.minOffset {
		return Address{}, false
	}
	return Address{space: a.space, offset: a.offset - 1}, true
}

// IsSuccessor reports whether b immediately follows a in the same space.
func (a Address) IsSuccessor(b Address) bool {
	return a.space == b.space && a.offset != a.space.maxOffset && a.offset+1 == b.offset
}

func (a Address) String() string {
	if a.space == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s:%08x", a.space.name, a.offset)
}
