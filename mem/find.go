package mem

import (
	"bytes"

	"github.com/scalpelre/memmap/address"
)

// FindBytes searches the loaded, initialized addresses for the first
// occurrence of pattern at or after start (forward) or at or before start
// (backward). A non-nil mask restricts the comparison to the mask's on
// bits, byte for byte. The boolean result is false when the region was
// exhausted or the monitor cancelled.
func (m *Map) FindBytes(start address.Address, pattern, mask []byte, forward bool,
	monitor Monitor) (address.Address, bool) {
	return m.findBytes(m.LoadedInitializedSet(), start, address.Address{}, pattern, mask, forward, monitor)
}

// FindBytesInRange is FindBytes bounded by end, searching all initialized
// addresses (mapped-through ranges included). Searching backward, the end
// bound itself is still examined; iteration stops strictly below it.
func (m *Map) FindBytesInRange(start, end address.Address, pattern, mask []byte, forward bool,
	monitor Monitor) (address.Address, bool) {
	return m.findBytes(m.AllInitializedSet(), start, end, pattern, mask, forward, monitor)
}

func (m *Map) findBytes(set *address.Set, start, end address.Address, pattern, mask []byte,
	forward bool, monitor Monitor) (address.Address, bool) {

	if len(pattern) == 0 {
		return address.Address{}, false
	}
	monitor = orNoopMonitor(monitor)

	it := set.Addresses(start, forward)
	buf := make([]byte, len(pattern))

	if forward {
		for {
			addr, ok := it.Next()
			if !ok || monitor.Cancelled() {
				return address.Address{}, false
			}
			if !end.IsZero() && addr.Compare(end) > 0 {
				return address.Address{}, false
			}
			moffset := m.match(addr, pattern, mask, buf, forward)
			if moffset == 1 {
				return addr, true
			}
			if moffset < 0 {
				// Safe skip: jump the iterator forward and re-seat it in the
				// covered set. If the jump would overflow the space, step
				// address by address instead.
				jump, err := addr.Add(uint64(-moffset))
				if err == nil {
					it = set.Addresses(jump, forward)
				} else {
					for i := 0; i < -moffset-1; i++ {
						if _, ok := it.Next(); !ok {
							break
						}
					}
				}
				monitor.IncrementProgress(int64(-moffset))
				continue
			}
			monitor.IncrementProgress(1)
		}
	}

	for {
		addr, ok := it.Next()
		if !ok || monitor.Cancelled() {
			return address.Address{}, false
		}
		if !end.IsZero() && addr.Compare(end) < 0 {
			return address.Address{}, false
		}
		if m.match(addr, pattern, mask, buf, forward) == 1 {
			return addr, true
		}
		monitor.IncrementProgress(1)
	}
}

// match tests the pattern against memory at addr.
//
// It returns 1 on a match, 0 on a mismatch that permits no skip, and -j when
// no match exists at addr but the next j-1 offsets are known mismatches too,
// so the caller may advance j addresses safely.
func (m *Map) match(addr address.Address, pattern, mask, data []byte, forward bool) int {
	n, err := m.ReadBytes(addr, data)
	if err != nil || n < len(data) {
		return 0
	}

	if mask == nil {
		if bytes.Equal(data, pattern) {
			return 1
		}
		if !forward {
			return 0
		}
		for j := 1; j < len(pattern); j++ {
			off := 0
			for ; off < len(data)-j; off++ {
				if pattern[off] != data[j+off] {
					break
				}
			}
			if off+j == len(data) {
				return -j
			}
		}
		return -len(pattern)
	}

	i := 0
	for ; i < len(pattern); i++ {
		if data[i]&mask[i] != pattern[i]&mask[i] {
			break
		}
	}
	if i == len(pattern) {
		return 1
	}
	if !forward {
		return 0
	}
	for j := 1; j < len(pattern); j++ {
		off := 0
		for ; off < len(data)-j; off++ {
			if pattern[off]&mask[off] != data[j+off]&mask[off] {
				break
			}
		}
		if off+j == len(data) {
			return -j
		}
	}
	return -len(pattern)
}
