package causage

import "github.com/mqutaish96/causage/internal/rangeset"

// infiniteCache is the compulsory-miss oracle (§4.B): an address has ever
// been touched if and only if its bit is set. It never evicts.
type infiniteCache struct {
	set      *rangeset.Set
	lineSize uint64
}

func newInfiniteCache(lineSize uint64) *infiniteCache {
	return &infiniteCache{
		set:      rangeset.New(lineSize),
		lineSize: lineSize,
	}
}

// touchAndWasPresent returns true iff every byte in [addr, addr+size) was
// already marked as touched; it always marks them as touched afterward.
// A reference straddling two cache lines is split at the line boundary
// and is "already present" iff both halves were.
func (c *infiniteCache) touchAndWasPresent(addr uint64, size uint8) bool {
	block1 := addr >> log2(c.lineSize)
	block2 := (addr + uint64(size) - 1) >> log2(c.lineSize)

	if block1 == block2 {
		return c.set.TouchAndWasPresent(addr, uint64(size))
	}

	size1 := uint64(c.lineSize) - (addr & (c.lineSize - 1))
	addr2 := addr + size1
	size2 := uint64(size) - size1

	first := c.set.TouchAndWasPresent(addr, size1)
	if !first {
		c.set.TouchAndWasPresent(addr2, size2)
		return false
	}
	return c.set.TouchAndWasPresent(addr2, size2)
}
