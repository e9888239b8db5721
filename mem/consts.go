package mem

// GByteShiftFactor converts the size limits below to whole gigabytes for
// diagnostics.
const GByteShiftFactor = 30

const (
	// MaxBinarySizeGB bounds the total number of covered addresses.
	MaxBinarySizeGB = 16
	MaxBinarySize   = uint64(MaxBinarySizeGB) << GByteShiftFactor

	// MaxInitializedBlockSize bounds the length of a single initialized
	// block; MaxUninitializedBlockSize bounds an uninitialized one. Both
	// share the binary budget, so they carry the same limit.
	MaxInitializedBlockSizeGB = 16
	MaxInitializedBlockSize   = uint64(MaxInitializedBlockSizeGB) << GByteShiftFactor

	MaxUninitializedBlockSizeGB = 16
	MaxUninitializedBlockSize   = uint64(MaxUninitializedBlockSizeGB) << GByteShiftFactor
)
