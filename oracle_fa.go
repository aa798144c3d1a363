package causage

import "github.com/mqutaish96/causage/internal/faring"

// fullyAssocCache is the conflict-miss oracle (§4.C): a fully-associative
// LRU cache of N = capacity/lineSize lines, used only to tell whether a
// set-associative miss would also have missed with unlimited associativity.
type fullyAssocCache struct {
	ring     *faring.Ring
	lineSize uint64
}

func newFullyAssocCache(capacityBytes, lineSize uint64) *fullyAssocCache {
	n := int(capacityBytes / lineSize)
	return &fullyAssocCache{
		ring:     faring.New(n),
		lineSize: lineSize,
	}
}

// isMiss returns true on miss, updating LRU state and contents regardless
// of whether this call is itself classified as a hit or a miss by the
// caller (the oracle advances on every reference, hits included).
func (c *fullyAssocCache) isMiss(addr uint64, size uint8) bool {
	block1 := addr >> log2(c.lineSize)
	block2 := (addr + uint64(size) - 1) >> log2(c.lineSize)

	if block1 == block2 {
		return c.ring.IsMiss(block1)
	}

	first := c.ring.IsMiss(block1)
	second := c.ring.IsMiss(block2)
	return first || second
}
