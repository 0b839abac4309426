package manber

// Rolling-hash parameters. spec.md §4.3 requires "implementation must
// use the same values to interoperate with stored sidecars" — these are
// the pinned interoperability contract for this module (the original
// header defining them, checksum.h, was not present in the retrieved
// source; see DESIGN.md "Open Question decisions" for how these values
// were chosen to match the spec's own ~128 KiB average block size
// example).
const (
	// Prime is the rolling-hash multiplier.
	Prime uint32 = 153191
	// Window is the backtrack window size in bytes; must be a power of
	// two (spec.md §4.3).
	Window = 8
	// BitMask selects the boundary condition: a block ends when
	// state&BitMask == 0. Its popcount (17 bits) controls the average
	// block size, 2^17 = 131072 bytes = 128 KiB.
	BitMask uint32 = 0x1ffff
	// MinFileSize is the file length below which the revert engine
	// deletes the sidecar rather than keep it (spec.md §4.3 step 5).
	// config.Context.MinChunkFileSize defaults to the same value, but the
	// engine does not read it.
	MinFileSize = 4096
)

// powerTable[i] = i * Prime^Window mod 2^32, precomputed once at package
// init (spec.md §4.3: "a precomputed table values[256]").
var powerTable [256]uint32

func init() {
	var p uint32 = 1
	for i := 0; i < Window; i++ {
		p *= Prime
	}
	for i := 0; i < 256; i++ {
		powerTable[i] = uint32(i) * p
	}
}
