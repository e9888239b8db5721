// Package mem models the address space of an analyzed binary as a set of
// named, typed memory blocks and provides coherent, typed byte access across
// them.
package mem

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/endian"
	"github.com/scalpelre/memmap/internal/utils"
	"github.com/scalpelre/memmap/mem/store"
)

// CreateOptions configures a new Map.
type CreateOptions struct {
	// Store persists block records and backing bytes. Required.
	Store store.Store
	// Factory resolves and creates address spaces. Required.
	Factory *address.Factory

	// Program, Code and Bus are optional collaborators; a nil Program
	// grants exclusive access unconditionally and places the image base at
	// the bottom of the default space.
	Program Program
	Code    CodeManager
	Bus     Bus

	// BigEndian selects the default byte order for typed access.
	BigEndian bool
	// UseMutex guards the public API with the map's lock. Consumers that
	// guarantee single-threaded access may disable it.
	UseMutex bool
	Logger   *slog.Logger
}

// Map is the memory map: a sorted, non-overlapping set of blocks with typed
// read/write access across them. All mutators serialize on the map's lock;
// lookup paths read a published snapshot guarded by a short internal
// monitor, so they never block behind store I/O.
type Map struct {
	logger  *slog.Logger
	program Program
	factory *address.Factory
	store   store.Store
	code    CodeManager
	bus     Bus

	defaultOrder endian.Order

	lock utils.OptionalRWMutex

	// snap guards the published snapshot below. Rebuild is the only writer
	// of the block vector; ConvertToInitialized and ConvertToUninitialized
	// also patch the coverage sets in place.
	snap          sync.Mutex
	blocks        []*Block
	byID          *swiss.Map[uint32, *Block]
	addrSet       *address.Set
	allInitSet    *address.Set
	loadedInitSet *address.Set
	lastBlock     *Block
	live          LiveMemoryHandler
}

// NewMap opens a memory map over the given store, loading all persisted
// blocks.
func NewMap(o CreateOptions) (*Map, error) {
	if o.Store == nil {
		return nil, cerrors.New("CreateOptions.Store is required")
	}
	if o.Factory == nil {
		return nil, cerrors.New("CreateOptions.Factory is required")
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	order := endian.Little
	if o.BigEndian {
		order = endian.Big
	}
	m := &Map{
		logger:       logger,
		program:      o.Program,
		factory:      o.Factory,
		store:        o.Store,
		code:         o.Code,
		bus:          o.Bus,
		defaultOrder: order,
		lock:         utils.OptionalRWMutex{UseMutex: o.UseMutex},
	}
	if err := m.rebuild(true); err != nil {
		return nil, err
	}
	return m, nil
}

// Order returns the map's default byte order.
func (m *Map) Order() endian.Order { return m.defaultOrder }

func (m *Map) IsBigEndian() bool { return m.defaultOrder == endian.Big }

// Factory returns the address factory backing this map.
func (m *Map) Factory() *address.Factory { return m.factory }

// rebuild derives a fresh block vector and coverage sets from the store and
// publishes them atomically. It runs after every successful structural
// mutation; the initialized-state conversions update the coverage sets in
// place instead of rebuilding.
func (m *Map) rebuild(refresh bool) error {
	if refresh {
		if err := m.store.Refresh(); err != nil {
			return err
		}
	}
	recs, err := m.store.LoadAll()
	if err != nil {
		return err
	}

	blocks := make([]*Block, len(recs))
	byID := swiss.NewMap[uint32, *Block](uint32(len(recs)) + 8)
	addrSet := address.NewSet()
	allInit := address.NewSet()
	loadedInit := address.NewSet()
	var mapped []*Block

	for i, rec := range recs {
		b := &Block{mem: m, rec: rec}
		blocks[i] = b
		byID.Put(rec.ID, b)
		addrSet.AddRange(rec.Start, rec.End())
		if rec.Initialized {
			allInit.AddRange(rec.Start, rec.End())
			if b.IsLoaded() {
				loadedInit.AddRange(rec.Start, rec.End())
			}
		}
		if b.IsMapped() {
			mapped = append(mapped, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].rec.Start.Compare(blocks[j].rec.Start) < 0
	})

	// Mapped blocks are uninitialized themselves, but ranges of them that
	// land on initialized targets read through; project those target ranges
	// back into the mapped blocks' own ranges.
	allInit.AddSet(m.mappedProjection(mapped, allInit))
	loadedInit.AddSet(m.mappedProjection(mapped, loadedInit))

	m.snap.Lock()
	m.blocks = blocks
	m.byID = byID
	m.addrSet = addrSet
	m.allInitSet = allInit
	m.loadedInitSet = loadedInit
	m.lastBlock = nil
	live := m.live
	m.snap.Unlock()

	if live != nil {
		live.ClearCache()
	}
	return nil
}

// mappedProjection computes, for every mapped block, the portion of its own
// range whose target bytes fall inside other. Bit-mapped contributions are
// clipped to the block end when the block length is not a bit multiple.
func (m *Map) mappedProjection(mapped []*Block, other *address.Set) *address.Set {
	res := address.NewSet()
	for _, mb := range mapped {
		targetEnd, err := mb.rec.Target.Add(mb.mappedSpan() - 1)
		if err != nil {
			continue
		}
		inter := other.IntersectRange(mb.rec.Target, targetEnd)
		for _, r := range inter.Ranges() {
			off := r.Min().Diff(mb.rec.Target)
			var start, end address.Address
			if mb.rec.Type == store.TypeBitMapped {
				if start, err = mb.rec.Start.Add(off * 8); err != nil {
					continue
				}
				if end, err = start.Add(r.Length()*8 - 1); err != nil {
					end = mb.End()
				}
			} else {
				if start, err = mb.rec.Start.Add(off); err != nil {
					continue
				}
				if end, err = start.Add(r.Length() - 1); err != nil {
					end = mb.End()
				}
			}
			if end.Compare(mb.End()) > 0 {
				end = mb.End()
			}
			res.AddRange(start, end)
		}
	}
	return res
}

// blockAt resolves the block containing addr against the published
// snapshot, consulting the single-slot recency cache first.
func (m *Map) blockAt(addr address.Address) *Block {
	m.snap.Lock()
	defer m.snap.Unlock()

	if m.lastBlock != nil && m.lastBlock.Contains(addr) {
		return m.lastBlock
	}
	blocks := m.blocks
	i := sort.Search(len(blocks), func(i int) bool {
		return blocks[i].rec.Start.Compare(addr) > 0
	})
	if i > 0 && blocks[i-1].Contains(addr) {
		m.lastBlock = blocks[i-1]
		return m.lastBlock
	}
	return nil
}

// Block returns the block containing addr, or nil.
func (m *Map) Block(addr address.Address) *Block { return m.blockAt(addr) }

// BlockByName returns the first block with the given name, or nil.
func (m *Map) BlockByName(name string) *Block {
	m.snap.Lock()
	defer m.snap.Unlock()
	for _, b := range m.blocks {
		if b.rec.Name == name {
			return b
		}
	}
	return nil
}

// Blocks returns the map's blocks sorted ascending by start address.
func (m *Map) Blocks() []*Block {
	m.snap.Lock()
	defer m.snap.Unlock()
	return append([]*Block(nil), m.blocks...)
}

// resolve maps a caller-held block onto the current snapshot by id.
func (m *Map) resolve(b *Block) (*Block, error) {
	if b == nil || b.mem != m {
		return nil, cerrors.Wrapf(ErrNotFound, "nil or foreign block")
	}
	m.snap.Lock()
	defer m.snap.Unlock()
	cur, ok := m.byID.Get(b.rec.ID)
	if !ok {
		return nil, cerrors.Wrapf(ErrNotFound, "block %q (id %d)", b.rec.Name, b.rec.ID)
	}
	return cur, nil
}

// AddressSet returns the covered addresses of the map.
func (m *Map) AddressSet() *address.Set {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.Clone()
}

// AllInitializedSet returns every address that is initialized or mapped onto
// an initialized range, loaded or not. With a live-memory handler installed,
// every covered address is initialized.
func (m *Map) AllInitializedSet() *address.Set {
	m.snap.Lock()
	defer m.snap.Unlock()
	if m.live != nil {
		return m.addrSet.Clone()
	}
	return m.allInitSet.Clone()
}

// LoadedInitializedSet returns the initialized addresses restricted to
// loaded blocks. With a live-memory handler installed, every covered address
// is initialized.
func (m *Map) LoadedInitializedSet() *address.Set {
	m.snap.Lock()
	defer m.snap.Unlock()
	if m.live != nil {
		return m.addrSet.Clone()
	}
	return m.loadedInitSet.Clone()
}

// InitializedSet is the loaded-and-initialized view; it is the set typed
// reads operate on.
func (m *Map) InitializedSet() *address.Set { return m.LoadedInitializedSet() }

// ExecuteSet returns the addresses of blocks carrying the execute
// permission.
func (m *Map) ExecuteSet() *address.Set {
	m.snap.Lock()
	defer m.snap.Unlock()
	set := address.NewSet()
	for _, b := range m.blocks {
		if b.rec.Perms&store.PermExecute != 0 {
			set.AddRange(b.rec.Start, b.rec.End())
		}
	}
	return set
}

func (m *Map) Contains(addr address.Address) bool {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.Contains(addr)
}

func (m *Map) ContainsRange(start, end address.Address) bool {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.ContainsRange(start, end)
}

func (m *Map) Intersects(start, end address.Address) bool {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.Intersects(start, end)
}

func (m *Map) IsEmpty() bool {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.IsEmpty()
}

// NumAddresses returns the total number of covered addresses.
func (m *Map) NumAddresses() uint64 {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.NumAddresses()
}

func (m *Map) MinAddress() (address.Address, bool) {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.MinAddress()
}

func (m *Map) MaxAddress() (address.Address, bool) {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.addrSet.MaxAddress()
}

// InvalidateCache reloads all persisted state, discarding the published
// snapshot. Used after external changes to the store.
func (m *Map) InvalidateCache() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.rebuild(true)
}

// SetLiveMemoryHandler installs (or, with nil, removes) a live-memory
// override. While installed it supersedes block-backed I/O.
func (m *Map) SetLiveMemoryHandler(handler LiveMemoryHandler) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.snap.Lock()
	old := m.live
	m.live = handler
	m.lastBlock = nil
	m.snap.Unlock()

	if old != nil {
		old.RemoveListener(m)
	}
	if handler != nil {
		handler.AddListener(m)
	}
}

// LiveMemoryHandler returns the installed handler, or nil.
func (m *Map) LiveMemoryHandler() LiveMemoryHandler {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.live
}

func (m *Map) liveHandler() LiveMemoryHandler {
	m.snap.Lock()
	defer m.snap.Unlock()
	return m.live
}

// LiveMemoryChanged implements LiveMemoryListener; byte changes on the live
// target surface as bytes-changed records.
func (m *Map) LiveMemoryChanged(addr address.Address, size int) {
	m.fireBytesChanged(addr, size)
}

func (m *Map) checkExclusiveAccess() error {
	if m.program == nil {
		return nil
	}
	return m.program.CheckExclusiveAccess()
}

// dbError logs a store failure and escalates it to the owning program.
func (m *Map) dbError(err error) {
	m.logger.LogAttrs(context.Background(), slog.LevelError, "block store failure",
		slog.Any("error", err))
	if m.program != nil {
		m.program.DBError(err)
	}
}

func (m *Map) post(change Change) {
	if m.bus != nil {
		m.bus.Post(change)
	}
}

func (m *Map) fireBlockAdded(b *Block) {
	m.post(Change{Type: ChangeBlockAdded, Start: b.rec.Start, End: b.rec.End(), New: b})
}

func (m *Map) fireBytesChanged(addr address.Address, count int) {
	if count <= 0 {
		return
	}
	end, err := addr.Add(uint64(count - 1))
	if err != nil {
		end = addr.Space().Max()
	}
	if m.code != nil {
		m.code.MemoryChanged(addr, end)
	}
	m.post(Change{Type: ChangeBytesChanged, Start: addr, End: end})
}

// checkMemoryWrite rejects writes that overlap a decoded instruction.
func (m *Map) checkMemoryWrite(start address.Address, length int) error {
	if m.code == nil {
		return nil
	}
	if instr, ok := m.code.InstructionContaining(start); ok {
		return cerrors.Wrapf(ErrMemoryAccess,
			"memory change conflicts with instruction at %s", instr.Min())
	}
	if length > 1 {
		if instr, ok := m.code.InstructionAfter(start); ok {
			end, err := start.Add(uint64(length - 1))
			if err != nil {
				end = start.Space().Max()
			}
			if instr.Min().Compare(end) <= 0 {
				return cerrors.Wrapf(ErrMemoryAccess,
					"memory change conflicts with instruction at %s", instr.Min())
			}
		}
	}
	return nil
}

// readMapped walks the block set from addr, reading as many bytes as each
// initialized or mapped block can supply, until dst is full or coverage
// runs out.
func (m *Map) readMapped(addr address.Address, dst []byte) (int, error) {
	numRead := 0
	var lastErr error
	for numRead < len(dst) {
		b := m.blockAt(addr)
		if b == nil {
			break
		}
		if !b.IsInitialized() && !b.IsMapped() {
			break
		}
		n, err := b.bytes(addr, dst[numRead:])
		if n == 0 {
			lastErr = err
			break
		}
		numRead += n
		if numRead >= len(dst) {
			break
		}
		next, err := addr.Add(uint64(n))
		if err != nil {
			break
		}
		addr = next
	}
	if numRead == 0 && len(dst) > 0 {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, cerrors.Wrapf(ErrMemoryAccess, "unable to read bytes at %s", addr)
	}
	return numRead, nil
}

// writeMapped is the write-side walk; unlike reads, a mid-span failure is
// returned rather than swallowed.
func (m *Map) writeMapped(addr address.Address, src []byte) (int, error) {
	written := 0
	for written < len(src) {
		b := m.blockAt(addr)
		if b == nil {
			break
		}
		n, err := b.putBytes(addr, src[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
		written += n
		if written >= len(src) {
			break
		}
		next, err := addr.Add(uint64(n))
		if err != nil {
			break
		}
		addr = next
	}
	if written == 0 && len(src) > 0 {
		return 0, cerrors.Wrapf(ErrMemoryAccess, "unable to write bytes at %s", addr)
	}
	return written, nil
}

func (m *Map) String() string {
	m.snap.Lock()
	defer m.snap.Unlock()
	if len(m.blocks) == 0 {
		return "[empty]"
	}
	var sb strings.Builder
	for _, b := range m.blocks {
		sb.WriteByte('[')
		sb.WriteString(b.rec.Start.String())
		sb.WriteString(", ")
		sb.WriteString(b.rec.End().String())
		sb.WriteString("] ")
	}
	return sb.String()
}
