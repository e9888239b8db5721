package mem

import "github.com/scalpelre/memmap/address"

// LiveMemoryHandler short-circuits byte access to a running target. While a
// handler is installed the map reports every covered address as initialized
// and forwards all reads and writes to the handler, regardless of block
// kind.
type LiveMemoryHandler interface {
	ReadByte(addr address.Address) (byte, error)
	ReadBytes(addr address.Address, dst []byte) (int, error)
	WriteByte(addr address.Address, value byte) error
	WriteBytes(addr address.Address, src []byte) (int, error)

	// ClearCache drops any bytes the handler has cached; called when the
	// map's block set changes underneath it.
	ClearCache()

	AddListener(l LiveMemoryListener)
	RemoveListener(l LiveMemoryListener)
}

// LiveMemoryListener observes byte changes originating from the live target.
type LiveMemoryListener interface {
	LiveMemoryChanged(addr address.Address, size int)
}
