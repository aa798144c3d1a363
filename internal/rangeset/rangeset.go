// Package rangeset backs the infinite-cache (compulsory-miss) oracle: a
// sorted, never-evicting set of address ranges, each holding a sparse
// bitmap of which cache-block-sized slices within it have ever been
// touched.
package rangeset

import "github.com/willf/bitset"

// RangeSize is the size in bytes of one naturally aligned range. Each
// range owns a bitmap of RangeSize/lineSize bits.
const RangeSize = 1 << 22 // 4 MiB

const rangeSizeMask = RangeSize - 1

// rangeGrowth is the number-of-entries increment added before doubling,
// matching the original allocator's "(+16) * 2" growth policy.
const rangeGrowth = 16

type memRange struct {
	base   uint64
	bitmap *bitset.BitSet
}

// Set is the sorted collection of ranges. The zero value is ready to use.
type Set struct {
	ranges      []memRange
	lineBits    uint
	bitsPerLine uint
}

// New creates a Set for a cache whose line size is lineSize bytes
// (lineSize must be a power of two).
func New(lineSize uint64) *Set {
	lineBits := uint(0)
	for (uint64(1) << lineBits) < lineSize {
		lineBits++
	}
	return &Set{
		lineBits:    lineBits,
		bitsPerLine: uint(RangeSize) >> lineBits,
	}
}

// TouchAndWasPresent marks bits [addr, addr+size) (rounded to containing
// cache blocks) as touched, and reports whether every one of them was
// already marked before this call. addr and addr+size-1 must fall in the
// same RangeSize-aligned range (straddle across ranges never happens in
// practice since RangeSize is far larger than any line; straddle across
// two *lines* is handled by the caller splitting the reference).
func (s *Set) TouchAndWasPresent(addr, size uint64) bool {
	base := addr &^ uint64(rangeSizeMask)
	begin := s.blockIndex(addr)
	end := s.blockIndex(addr + size - 1)

	idx, found := s.search(base)
	if !found {
		s.insert(idx, base)
	}
	r := &s.ranges[idx]

	allSet := true
	for b := begin; b <= end; b++ {
		if !r.bitmap.Test(b) {
			allSet = false
		}
	}
	if allSet {
		return true
	}
	for b := begin; b <= end; b++ {
		r.bitmap.Set(b)
	}
	return false
}

func (s *Set) blockIndex(addr uint64) uint {
	offset := addr & uint64(rangeSizeMask)
	return uint(offset >> s.lineBits)
}

// search returns the index of the range whose base equals target, and
// whether it was found. If not found, idx is the insertion point that
// keeps s.ranges sorted by base.
func (s *Set) search(target uint64) (idx int, found bool) {
	lo, hi := 0, len(s.ranges)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case s.ranges[mid].base == target:
			return mid, true
		case s.ranges[mid].base < target:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return lo, false
}

func (s *Set) insert(at int, base uint64) {
	if len(s.ranges) == cap(s.ranges) {
		newCap := (cap(s.ranges) + rangeGrowth) * 2
		grown := make([]memRange, len(s.ranges), newCap)
		copy(grown, s.ranges)
		s.ranges = grown
	}
	s.ranges = append(s.ranges, memRange{})
	copy(s.ranges[at+1:], s.ranges[at:])
	s.ranges[at] = memRange{
		base:   base,
		bitmap: bitset.New(s.bitsPerLine),
	}
}

// NumRanges reports how many ranges have been allocated so far. Exposed
// for tests and diagnostics only.
func (s *Set) NumRanges() int {
	return len(s.ranges)
}
