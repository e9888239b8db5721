package store

import (
	"io"

	"github.com/pkg/errors"

	"github.com/scalpelre/memmap/address"
)

// ErrStore marks adapter I/O failures. Memory map operations treat any error
// carrying this mark as fatal to the owning program.
var ErrStore error = errors.New("block store failure")

// Store persists block records and their backing bytes.
//
// Backing bytes exist only for initialized default and overlay blocks; reads
// and writes beyond the bytes a block was created with are bounded by the
// caller, not the store. Implementations must be safe for concurrent readers
// with one writer.
type Store interface {
	// LoadAll returns every persisted block record, sorted ascending by
	// start address.
	LoadAll() ([]Record, error)
	// Refresh re-reads persisted state after an external change.
	Refresh() error

	// CreateBlock persists a new record and, for initialized default and
	// overlay blocks, allocates backing bytes read from src, zero-filled
	// where src is nil or runs short.
	CreateBlock(typ BlockType, name string, start address.Address, length uint64,
		target address.Address, initialized bool, perms Perms, src io.Reader) (Record, error)

	Delete(id uint32) error
	Update(rec Record) error

	// ReadBytes fills dst from the block's backing bytes at off, returning
	// the count read.
	ReadBytes(id uint32, off uint64, dst []byte) (int, error)
	// WriteBytes stores src into the block's backing bytes at off,
	// returning the count written.
	WriteBytes(id uint32, off uint64, src []byte) (int, error)

	Close() error
}
