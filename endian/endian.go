// Package endian packs and unpacks 16/32/64-bit integers in big or little
// byte order, scalar and bulk.
package endian

import "encoding/binary"

// Order selects a byte order for typed memory access.
type Order uint8

const (
	Little Order = iota
	Big
)

func (o Order) String() string {
	if o == Big {
		return "big"
	}
	return "little"
}

func (o Order) byteOrder() binary.ByteOrder {
	if o == Big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (o Order) Uint16(b []byte) uint16 { return o.byteOrder().Uint16(b) }
func (o Order) Uint32(b []byte) uint32 { return o.byteOrder().Uint32(b) }
func (o Order) Uint64(b []byte) uint64 { return o.byteOrder().Uint64(b) }

func (o Order) PutUint16(b []byte, v uint16) { o.byteOrder().PutUint16(b, v) }
func (o Order) PutUint32(b []byte, v uint32) { o.byteOrder().PutUint32(b, v) }
func (o Order) PutUint64(b []byte, v uint64) { o.byteOrder().PutUint64(b, v) }

// Uint16s decodes as many whole 16-bit values from b as fit in dst,
// returning the number decoded.
func (o Order) Uint16s(b []byte, dst []uint16) int {
	bo := o.byteOrder()
	n := len(b) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = bo.Uint16(b[i*2:])
	}
	return n
}

// Uint32s decodes as many whole 32-bit values from b as fit in dst,
// returning the number decoded.
func (o Order) Uint32s(b []byte, dst []uint32) int {
	bo := o.byteOrder()
	n := len(b) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = bo.Uint32(b[i*4:])
	}
	return n
}

// Uint64s decodes as many whole 64-bit values from b as fit in dst,
// returning the number decoded.
func (o Order) Uint64s(b []byte, dst []uint64) int {
	bo := o.byteOrder()
	n := len(b) / 8
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = bo.Uint64(b[i*8:])
	}
	return n
}
