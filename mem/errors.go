package mem

import "github.com/pkg/errors"

// ErrMemoryAccess is the error returned when a read or write touches an
// address that is not covered, not initialized, or conflicts with a decoded
// instruction.
var ErrMemoryAccess error = errors.New("memory access error")

// ErrRangeConflict is the error returned when a new or moved block would
// intersect existing coverage, span the image base, or exceed a size limit.
var ErrRangeConflict error = errors.New("memory range conflict")

// ErrInvalidKind is the error returned when an operation is illegal for the
// block's kind.
var ErrInvalidKind error = errors.New("operation not permitted for this block kind")

// ErrExclusiveAccess is the error a Program returns from
// CheckExclusiveAccess when the caller does not hold exclusive access.
var ErrExclusiveAccess error = errors.New("exclusive access required")

// ErrNotFound is the error returned when a block is not a member of the map
// it was handed to.
var ErrNotFound error = errors.New("block does not belong to this memory map")

// ErrCancelled is the error returned when a monitor cancels a long-running
// operation.
var ErrCancelled error = errors.New("operation cancelled")

// ErrLiveMemory is the error returned when an operation is forbidden while a
// live-memory handler is installed.
var ErrLiveMemory error = errors.New("operation not permitted while live memory is active")
