package mem

import (
	"fmt"

	"github.com/scalpelre/memmap/address"
)

// ChangeType identifies what a memory map change record describes.
type ChangeType int

const (
	ChangeBlockAdded ChangeType = iota
	ChangeBlockRemoved
	ChangeBlockChanged
	ChangeBlockSplit
	ChangeBlocksJoined
	ChangeBlockMoved
	ChangeBytesChanged
)

func (t ChangeType) String() string {
	switch t {
	case ChangeBlockAdded:
		return "blockAdded"
	case ChangeBlockRemoved:
		return "blockRemoved"
	case ChangeBlockChanged:
		return "blockChanged"
	case ChangeBlockSplit:
		return "blockSplit"
	case ChangeBlocksJoined:
		return "blocksJoined"
	case ChangeBlockMoved:
		return "blockMoved"
	case ChangeBytesChanged:
		return "bytesChanged"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// Change is one record on the map's change stream. Start and End bound the
// affected addresses; Old and New carry operation-specific detail (the old
// start address of a moved block, the surviving block of a join, and so on).
type Change struct {
	Type  ChangeType
	Start address.Address
	End   address.Address
	Old   any
	New   any
}

// Bus receives change records, in mutation order. Implementations must not
// call back into map mutators.
type Bus interface {
	Post(change Change)
}

// BusFunc adapts a function to the Bus interface.
type BusFunc func(Change)

func (f BusFunc) Post(change Change) { f(change) }
