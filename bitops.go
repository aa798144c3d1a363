package causage

import "math/bits"

// setBits turns on bits begin..=end (inclusive) of bv. Callers guarantee
// end < 64 and begin <= end.
func setBits(bv uint64, begin, end uint) uint64 {
	width := end - begin + 1
	var mask uint64
	if width >= 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1)<<width - 1) << begin
	}
	return bv | mask
}

// popCount returns the number of set bits in bv.
func popCount(bv uint64) int {
	return bits.OnesCount64(bv)
}

// log2 returns the base-2 logarithm of a power-of-two n. Callers guarantee
// n is a nonzero power of two.
func log2(n uint64) uint {
	return uint(bits.TrailingZeros64(n))
}

// isPowerOfTwo reports whether n is a nonzero power of two.
func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}
