package store

import (
	"encoding/binary"
	"io"
	"sort"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/scalpelre/memmap/address"
)

// Backing bytes are stored in fixed-size chunks so that writes touch only
// the chunks they overlap. CreateBlock skips all-zero chunks; WriteBytes
// stores every chunk it touches, zeros included. Reads treat a missing chunk
// as zeros.
const chunkSize = 1 << 16

// Key layout:
//
//	'r' + id(4)            -> block record JSON
//	'd' + id(4) + chunk(4) -> backing byte chunk
//	'n'                    -> next record id
var nextIDKey = []byte{'n'}

// PebbleStore keeps block records and backing bytes in a pebble database.
type PebbleStore struct {
	db      *pebble.DB
	factory *address.Factory

	mu     sync.Mutex
	nextID uint32
}

var _ Store = (*PebbleStore)(nil)

// OpenPebble opens (or creates) a pebble-backed store at path. Records are
// decoded against the supplied factory, which must know every space the
// stored blocks reference.
func OpenPebble(path string, factory *address.Factory, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "opening block store at %q", path), ErrStore)
	}
	s := &PebbleStore{db: db, factory: factory, nextID: 1}

	value, closer, err := db.Get(nextIDKey)
	switch {
	case err == nil:
		s.nextID = binary.BigEndian.Uint32(value)
		_ = closer.Close()
	case cerrors.Is(err, pebble.ErrNotFound):
	default:
		_ = db.Close()
		return nil, cerrors.Mark(cerrors.Wrapf(err, "reading block store metadata"), ErrStore)
	}
	return s, nil
}

func recordKey(id uint32) []byte {
	k := make([]byte, 5)
	k[0] = 'r'
	binary.BigEndian.PutUint32(k[1:], id)
	return k
}

func chunkKey(id uint32, chunk uint32) []byte {
	k := make([]byte, 9)
	k[0] = 'd'
	binary.BigEndian.PutUint32(k[1:], id)
	binary.BigEndian.PutUint32(k[5:], chunk)
	return k
}

func dataPrefix(id uint32) []byte {
	k := make([]byte, 5)
	k[0] = 'd'
	binary.BigEndian.PutUint32(k[1:], id)
	return k
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, for use as an exclusive upper bound.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) LoadAll() ([]Record, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'r'},
		UpperBound: prefixEnd([]byte{'r'}),
	})
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "scanning block records"), ErrStore)
	}
	defer iter.Close()

	var recs []Record
	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value(), s.factory)
		if err != nil {
			return nil, cerrors.Mark(err, ErrStore)
		}
		recs = append(recs, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, cerrors.Mark(cerrors.Wrapf(err, "scanning block records"), ErrStore)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Start.Compare(recs[j].Start) < 0
	})
	return recs, nil
}

// Refresh is a no-op: the database always serves the latest committed state.
func (s *PebbleStore) Refresh() error { return nil }

func (s *PebbleStore) CreateBlock(typ BlockType, name string, start address.Address, length uint64,
	target address.Address, initialized bool, perms Perms, src io.Reader) (Record, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:          s.nextID,
		Type:        typ,
		Name:        name,
		Start:       start,
		Length:      length,
		Perms:       perms,
		Initialized: initialized,
		Target:      target,
	}
	encoded, err := encodeRecord(rec)
	if err != nil {
		return Record{}, cerrors.Mark(cerrors.Wrapf(err, "encoding block %q", name), ErrStore)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(recordKey(rec.ID), encoded, nil); err != nil {
		return Record{}, cerrors.Mark(err, ErrStore)
	}

	if initialized && !typ.IsMapped() && src != nil {
		buf := make([]byte, chunkSize)
		remaining := length
		for chunk := uint32(0); remaining > 0; chunk++ {
			n := uint64(chunkSize)
			if remaining < n {
				n = remaining
			}
			read, err := io.ReadFull(src, buf[:n])
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				// Short source streams zero-fill the remainder.
				for i := read; i < int(n); i++ {
					buf[i] = 0
				}
				src = zeroReader{}
			} else if err != nil {
				return Record{}, cerrors.Wrapf(err, "reading source bytes for block %q", name)
			}
			if !allZero(buf[:n]) {
				if err := batch.Set(chunkKey(rec.ID, chunk), buf[:n], nil); err != nil {
					return Record{}, cerrors.Mark(err, ErrStore)
				}
			}
			remaining -= n
		}
	}

	var next [4]byte
	binary.BigEndian.PutUint32(next[:], rec.ID+1)
	if err := batch.Set(nextIDKey, next[:], nil); err != nil {
		return Record{}, cerrors.Mark(err, ErrStore)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return Record{}, cerrors.Mark(cerrors.Wrapf(err, "committing block %q", name), ErrStore)
	}
	s.nextID = rec.ID + 1
	return rec, nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (s *PebbleStore) Delete(id uint32) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(recordKey(id), nil); err != nil {
		return cerrors.Mark(err, ErrStore)
	}
	prefix := dataPrefix(id)
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return cerrors.Mark(err, ErrStore)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "deleting block %d", id), ErrStore)
	}
	return nil
}

func (s *PebbleStore) Update(rec Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "encoding block %q", rec.Name), ErrStore)
	}
	if err := s.db.Set(recordKey(rec.ID), encoded, pebble.Sync); err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "updating block %q", rec.Name), ErrStore)
	}
	return nil
}

// readChunk copies one chunk's bytes into dst, zero-filling if the chunk was
// never written.
func (s *PebbleStore) readChunk(id uint32, chunk uint32, chunkOff uint64, dst []byte) error {
	value, closer, err := s.db.Get(chunkKey(id, chunk))
	if cerrors.Is(err, pebble.ErrNotFound) {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	if err != nil {
		return cerrors.Mark(cerrors.Wrapf(err, "reading block %d chunk %d", id, chunk), ErrStore)
	}
	defer closer.Close()
	n := 0
	if chunkOff < uint64(len(value)) {
		n = copy(dst, value[chunkOff:])
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func (s *PebbleStore) ReadBytes(id uint32, off uint64, dst []byte) (int, error) {
	done := 0
	for done < len(dst) {
		chunk := uint32((off + uint64(done)) / chunkSize)
		chunkOff := (off + uint64(done)) % chunkSize
		n := int(chunkSize - chunkOff)
		if n > len(dst)-done {
			n = len(dst) - done
		}
		if err := s.readChunk(id, chunk, chunkOff, dst[done:done+n]); err != nil {
			return done, err
		}
		done += n
	}
	return done, nil
}

func (s *PebbleStore) WriteBytes(id uint32, off uint64, src []byte) (int, error) {
	batch := s.db.NewBatch()
	defer batch.Close()

	done := 0
	buf := make([]byte, chunkSize)
	for done < len(src) {
		chunk := uint32((off + uint64(done)) / chunkSize)
		chunkOff := (off + uint64(done)) % chunkSize
		n := int(chunkSize - chunkOff)
		if n > len(src)-done {
			n = len(src) - done
		}
		if chunkOff == 0 && n == chunkSize {
			copy(buf, src[done:done+n])
		} else {
			if err := s.readChunk(id, chunk, 0, buf); err != nil {
				return done, err
			}
			copy(buf[chunkOff:], src[done:done+n])
		}
		if err := batch.Set(chunkKey(id, chunk), buf, nil); err != nil {
			return done, cerrors.Mark(err, ErrStore)
		}
		done += n
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, cerrors.Mark(cerrors.Wrapf(err, "writing block %d bytes", id), ErrStore)
	}
	return done, nil
}

func (s *PebbleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return cerrors.Mark(err, ErrStore)
	}
	return nil
}
