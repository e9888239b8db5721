package mem

import (
	"strconv"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/scalpelre/memmap/mem/store"
)

// Statistics summarizes a map's block population and byte coverage.
type Statistics struct {
	BlockCount            int
	InitializedBlockCount int
	MappedBlockCount      int
	OverlayBlockCount     int

	CoveredBytes           uint64
	InitializedBytes       uint64
	LoadedInitializedBytes uint64
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.InitializedBlockCount += other.InitializedBlockCount
	s.MappedBlockCount += other.MappedBlockCount
	s.OverlayBlockCount += other.OverlayBlockCount
	s.CoveredBytes += other.CoveredBytes
	s.InitializedBytes += other.InitializedBytes
	s.LoadedInitializedBytes += other.LoadedInitializedBytes
}

// AddStatistics sums this map's population into stats.
func (m *Map) AddStatistics(stats *Statistics) {
	m.snap.Lock()
	defer m.snap.Unlock()

	for _, b := range m.blocks {
		stats.BlockCount++
		if b.rec.Initialized {
			stats.InitializedBlockCount++
		}
		if b.IsMapped() {
			stats.MappedBlockCount++
		}
		if b.rec.Type == store.TypeOverlay {
			stats.OverlayBlockCount++
		}
	}
	stats.CoveredBytes += m.addrSet.NumAddresses()
	stats.InitializedBytes += m.allInitSet.NumAddresses()
	stats.LoadedInitializedBytes += m.loadedInitSet.NumAddresses()
}

// PrintDetailedMap streams the block table and coverage summary as JSON, for
// diagnostics.
func (m *Map) PrintDetailedMap(writer *jwriter.Writer) {
	m.snap.Lock()
	defer m.snap.Unlock()

	objState := writer.Object()
	defer objState.End()

	objState.Name("CoveredBytes").Float64(float64(m.addrSet.NumAddresses()))
	objState.Name("InitializedBytes").Float64(float64(m.allInitSet.NumAddresses()))
	objState.Name("LoadedInitializedBytes").Float64(float64(m.loadedInitSet.NumAddresses()))

	blocksObj := objState.Name("Blocks").Object()
	defer blocksObj.End()

	for _, b := range m.blocks {
		blockObj := blocksObj.Name(strconv.FormatUint(uint64(b.rec.ID), 10)).Object()
		blockObj.Name("Name").String(b.rec.Name)
		blockObj.Name("Start").String(b.rec.Start.String())
		blockObj.Name("End").String(b.rec.End().String())
		blockObj.Name("Type").String(b.rec.Type.String())
		blockObj.Name("Initialized").Bool(b.rec.Initialized)
		blockObj.Name("Perms").Int(int(b.rec.Perms))
		if !b.rec.Target.IsZero() {
			blockObj.Name("Target").String(b.rec.Target.String())
		}
		blockObj.End()
	}
}
