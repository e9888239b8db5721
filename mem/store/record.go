// Package store persists memory block records and their backing bytes.
package store

import (
	"fmt"
	"strconv"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/scalpelre/memmap/address"
)

// BlockType identifies how a block sources its bytes.
type BlockType uint8

const (
	// TypeDefault blocks own their backing bytes when initialized.
	TypeDefault BlockType = iota
	// TypeOverlay blocks are default blocks residing in an overlay space.
	TypeOverlay
	// TypeBitMapped blocks expose one byte per bit of a target range.
	TypeBitMapped
	// TypeByteMapped blocks forward bytes 1:1 to a target range.
	TypeByteMapped
)

func (t BlockType) String() string {
	switch t {
	case TypeDefault:
		return "default"
	case TypeOverlay:
		return "overlay"
	case TypeBitMapped:
		return "bitMapped"
	case TypeByteMapped:
		return "byteMapped"
	}
	return fmt.Sprintf("BlockType(%d)", uint8(t))
}

// IsMapped reports whether the type forwards its bytes into another block's
// range.
func (t BlockType) IsMapped() bool {
	return t == TypeBitMapped || t == TypeByteMapped
}

// Perms is the permission bit set of a block.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermExecute
	PermVolatile
)

// Record is the persisted form of a memory block.
type Record struct {
	ID          uint32
	Type        BlockType
	Name        string
	Start       address.Address
	Length      uint64
	Perms       Perms
	Initialized bool
	// Target is the lowest address of the mapped-onto range for bit- and
	// byte-mapped blocks, and the zero Address otherwise.
	Target address.Address
}

// End returns the inclusive upper address of the block. Records are
// validated against address overflow before they are persisted.
func (r Record) End() address.Address {
	end, err := r.Start.Add(r.Length - 1)
	if err != nil {
		panic(fmt.Sprintf("stored block %q overruns its space: %v", r.Name, err))
	}
	return end
}

func encodeAddr(obj *jwriter.ObjectState, spaceField, offsetField string, a address.Address) {
	obj.Name(spaceField).String(a.Space().Name())
	obj.Name(offsetField).String(strconv.FormatUint(a.Offset(), 16))
}

// encodeRecord renders a record as a compact JSON object.
func encodeRecord(r Record) ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("id").Int(int(r.ID))
	obj.Name("type").Int(int(r.Type))
	obj.Name("name").String(r.Name)
	encodeAddr(&obj, "space", "offset", r.Start)
	obj.Name("length").String(strconv.FormatUint(r.Length, 16))
	obj.Name("perms").Int(int(r.Perms))
	obj.Name("initialized").Bool(r.Initialized)
	if !r.Target.IsZero() {
		encodeAddr(&obj, "targetSpace", "targetOffset", r.Target)
	}
	obj.End()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// decodeRecord parses a record, resolving its spaces through the factory.
func decodeRecord(data []byte, factory *address.Factory) (Record, error) {
	var rec Record
	var spaceName, offsetHex, lengthHex, targetSpace, targetOffsetHex string

	r := jreader.NewReader(data)
	obj := r.Object()
	for obj.Next() {
		switch string(obj.Name()) {
		case "id":
			rec.ID = uint32(r.Int())
		case "type":
			rec.Type = BlockType(r.Int())
		case "name":
			rec.Name = r.String()
		case "space":
			spaceName = r.String()
		case "offset":
			offsetHex = r.String()
		case "length":
			lengthHex = r.String()
		case "perms":
			rec.Perms = Perms(r.Int())
		case "initialized":
			rec.Initialized = r.Bool()
		case "targetSpace":
			targetSpace = r.String()
		case "targetOffset":
			targetOffsetHex = r.String()
		default:
			r.SkipValue()
		}
	}
	if err := r.Error(); err != nil {
		return Record{}, cerrors.Wrapf(err, "malformed block record")
	}

	start, err := resolveAddr(factory, spaceName, offsetHex)
	if err != nil {
		return Record{}, cerrors.Wrapf(err, "block record %d", rec.ID)
	}
	rec.Start = start
	if rec.Length, err = strconv.ParseUint(lengthHex, 16, 64); err != nil {
		return Record{}, cerrors.Wrapf(err, "block record %d length", rec.ID)
	}
	if targetSpace != "" {
		if rec.Target, err = resolveAddr(factory, targetSpace, targetOffsetHex); err != nil {
			return Record{}, cerrors.Wrapf(err, "block record %d target", rec.ID)
		}
	}
	return rec, nil
}

func resolveAddr(factory *address.Factory, spaceName, offsetHex string) (address.Address, error) {
	space := factory.Space(spaceName)
	if space == nil {
		return address.Address{}, cerrors.Newf("unknown address space %q", spaceName)
	}
	offset, err := strconv.ParseUint(offsetHex, 16, 64)
	if err != nil {
		return address.Address{}, cerrors.Wrapf(err, "offset %q", offsetHex)
	}
	return space.Address(offset), nil
}
