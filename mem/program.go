package mem

import "github.com/scalpelre/memmap/address"

// Program is the owning program's surface as seen by the memory map. The
// map's operations consult it while the map's lock is held; Validate also
// calls ImageBase while holding only the snapshot monitor.
type Program interface {
	// ImageBase returns the program's image base address; blocks in the
	// default space may not span it.
	ImageBase() address.Address
	// CheckExclusiveAccess returns an error carrying ErrExclusiveAccess
	// when the caller may not mutate the program.
	CheckExclusiveAccess() error
	// MoveAddressRange migrates program artifacts (cross-references and the
	// like) after a block move.
	MoveAddressRange(from, to address.Address, length uint64, monitor Monitor) error
	// DBError escalates a fatal store failure to the program.
	DBError(err error)
}

// CodeManager is consulted to reject writes that conflict with decoded
// instructions, and notified when bytes change.
type CodeManager interface {
	// InstructionContaining returns the extent of the instruction covering
	// addr, if any.
	InstructionContaining(addr address.Address) (address.Range, bool)
	// InstructionAfter returns the extent of the first instruction starting
	// above addr, if any.
	InstructionAfter(addr address.Address) (address.Range, bool)
	// MemoryChanged reports that bytes in [start, end] were rewritten.
	MemoryChanged(start, end address.Address)
}
