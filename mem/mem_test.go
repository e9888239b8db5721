package mem_test

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/scalpelre/memmap/address"
	"github.com/scalpelre/memmap/mem"
	"github.com/scalpelre/memmap/mem/store"
)

// fakeProgram grants exclusive access unless told otherwise and records
// escalations.
type fakeProgram struct {
	imageBase     address.Address
	denyExclusive bool
	dbErrs        []error
	moves         []moveRecord
}

type moveRecord struct {
	from, to address.Address
	length   uint64
}

func (p *fakeProgram) ImageBase() address.Address { return p.imageBase }

func (p *fakeProgram) CheckExclusiveAccess() error {
	if p.denyExclusive {
		return mem.ErrExclusiveAccess
	}
	return nil
}

func (p *fakeProgram) MoveAddressRange(from, to address.Address, length uint64, monitor mem.Monitor) error {
	p.moves = append(p.moves, moveRecord{from: from, to: to, length: length})
	return nil
}

func (p *fakeProgram) DBError(err error) { p.dbErrs = append(p.dbErrs, err) }

// fakeCode serves a fixed instruction list.
type fakeCode struct {
	instrs  []address.Range
	changed []address.Range
}

func (c *fakeCode) InstructionContaining(addr address.Address) (address.Range, bool) {
	for _, r := range c.instrs {
		if r.Contains(addr) {
			return r, true
		}
	}
	return address.Range{}, false
}

func (c *fakeCode) InstructionAfter(addr address.Address) (address.Range, bool) {
	var best address.Range
	found := false
	for _, r := range c.instrs {
		if r.Min().Compare(addr) > 0 && (!found || r.Min().Compare(best.Min()) < 0) {
			best = r
			found = true
		}
	}
	return best, found
}

func (c *fakeCode) MemoryChanged(start, end address.Address) {
	c.changed = append(c.changed, address.NewRange(start, end))
}

// recordingBus collects posted change records.
type recordingBus struct {
	changes []mem.Change
}

func (b *recordingBus) Post(change mem.Change) { b.changes = append(b.changes, change) }

func (b *recordingBus) typesSeen() []mem.ChangeType {
	types := make([]mem.ChangeType, len(b.changes))
	for i, c := range b.changes {
		types[i] = c.Type
	}
	return types
}

type testEnv struct {
	m       *mem.Map
	factory *address.Factory
	ram     *address.Space
	ov      *address.Space
	program *fakeProgram
	code    *fakeCode
	bus     *recordingBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	factory := address.NewFactory("ram", 0xFFFFFFFF)
	ov, err := factory.AddMemorySpace("ov", 0xFFFF)
	require.NoError(t, err)

	st, err := store.OpenPebble("blocks", factory, &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	program := &fakeProgram{imageBase: factory.DefaultSpace().Address(0)}
	code := &fakeCode{}
	bus := &recordingBus{}

	m, err := mem.NewMap(mem.CreateOptions{
		Store:     st,
		Factory:   factory,
		Program:   program,
		Code:      code,
		Bus:       bus,
		BigEndian: false,
		UseMutex:  true,
	})
	require.NoError(t, err)

	return &testEnv{
		m:       m,
		factory: factory,
		ram:     factory.DefaultSpace(),
		ov:      ov,
		program: program,
		code:    code,
		bus:     bus,
	}
}

// createText creates the canonical ".text" block: ram:0x1000, length 0x10,
// filled with 0xAA.
func (e *testEnv) createText(t *testing.T) *mem.Block {
	t.Helper()
	b, err := e.m.CreateInitializedBlock(".text", e.ram.Address(0x1000), 0x10, 0xAA, nil, false)
	require.NoError(t, err)
	return b
}

func requireValid(t *testing.T, m *mem.Map) {
	t.Helper()
	require.NoError(t, m.Validate())
}
