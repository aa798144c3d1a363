package causage

import (
	"fmt"
	"log/slog"
)

// GeometryConfig is the immutable description of a single cache level:
// total size, associativity, and line size, all in bytes (lineSize) or
// a plain count (associativity). Size must be divisible by
// associativity*lineSize, and lineSize must be a power of two no smaller
// than 8 (the machine word size this simulator assumes).
type GeometryConfig struct {
	SizeBytes     uint64
	Associativity int
	LineSizeBytes uint64
}

const machineWordSize = 8

func (g GeometryConfig) validate() error {
	if !isPowerOfTwo(g.LineSizeBytes) || g.LineSizeBytes < machineWordSize {
		return errInvalidGeometryf("line size %d must be a power of two >= %d", g.LineSizeBytes, machineWordSize)
	}
	if g.Associativity <= 0 {
		return errInvalidGeometryf("associativity %d must be positive", g.Associativity)
	}
	if g.SizeBytes%(uint64(g.Associativity)*g.LineSizeBytes) != 0 {
		return errInvalidGeometryf("size %d not divisible by assoc(%d)*lineSize(%d)", g.SizeBytes, g.Associativity, g.LineSizeBytes)
	}
	sets := g.SizeBytes / g.LineSizeBytes / uint64(g.Associativity)
	if !isPowerOfTwo(sets) {
		return errInvalidGeometryf("derived set count %d must be a power of two", sets)
	}
	return nil
}

func (g GeometryConfig) sets() int {
	return int(g.SizeBytes / g.LineSizeBytes / uint64(g.Associativity))
}

// cacheLine is a single set-associative way (§3 "Line entry"). valid
// distinguishes a never-installed way from one legitimately holding tag
// 0 (address 0 is a perfectly ordinary tag, so the tag field alone can't
// double as its own presence flag).
type cacheLine struct {
	valid       bool
	tag         uint64
	bitvector   uint64 // one bit per word-within-line
	installSrc  *CounterBlock
	installLine int
}

// level is the set-associative LRU model for one real cache level
// (§4.D). Each set owns its own LRU permutation of way indices.
type level struct {
	geom GeometryConfig

	sets          int
	setMask       uint64
	lineBits      uint
	wordBits      uint
	wordsPerLine  int

	lines []cacheLine // sets * associativity, row-major by set
	lru   [][]int     // per-set way order, MRU-first

	which Level
	log   *slog.Logger
}

func newLevel(which Level, g GeometryConfig, log *slog.Logger) *level {
	sets := g.sets()
	l := &level{
		geom:         g,
		sets:         sets,
		setMask:      uint64(sets - 1),
		lineBits:     log2(g.LineSizeBytes),
		wordBits:     log2(machineWordSize),
		wordsPerLine: int(g.LineSizeBytes / machineWordSize),
		lines:        make([]cacheLine, sets*g.Associativity),
		lru:          make([][]int, sets),
		which:        which,
		log:          log,
	}
	for s := 0; s < sets; s++ {
		order := make([]int, g.Associativity)
		for w := range order {
			order[w] = w
		}
		l.lru[s] = order
	}
	return l
}

func (l *level) lineAt(set, way int) *cacheLine {
	return &l.lines[set*l.geom.Associativity+way]
}

// access implements §4.D: looks up tag in set, on hit ORs the touched word
// range into the line's bitvector and returns false; on miss evicts the
// LRU way (attributing its usage histogram bin to its owning source
// location first), installs tag, and returns true.
func (l *level) access(set int, tag uint64, wordBegin, wordEnd uint, srcLoc *CounterBlock, srcLine int) bool {
	order := l.lru[set]

	mruWay := order[0]
	mru := l.lineAt(set, mruWay)
	if mru.valid && mru.tag == tag {
		mru.bitvector = setBits(mru.bitvector, wordBegin, wordEnd)
		return false
	}

	for i := 1; i < len(order); i++ {
		way := order[i]
		ln := l.lineAt(set, way)
		if ln.valid && ln.tag == tag {
			copy(order[1:i+1], order[0:i])
			order[0] = way
			ln.bitvector = setBits(ln.bitvector, wordBegin, wordEnd)
			return false
		}
	}

	victimWay := order[len(order)-1]
	victim := l.lineAt(set, victimWay)
	l.attributeEviction(victim)

	copy(order[1:], order[:len(order)-1])
	order[0] = victimWay

	victim.valid = true
	victim.tag = tag
	victim.bitvector = setBits(0, wordBegin, wordEnd)
	victim.installSrc = srcLoc
	victim.installLine = srcLine

	return true
}

// attributeEviction credits the usage-histogram bin of the line about to
// be overwritten to the source location that installed it (§4.D, §4.F).
func (l *level) attributeEviction(victim *cacheLine) {
	if !victim.valid || victim.installSrc == nil {
		return
	}
	words := popCount(victim.bitvector)
	if !victim.installSrc.recordEviction(l.which, words) && l.log != nil {
		l.log.Error("classification ambiguity: zero words used on evicted line",
			"level", l.which, "tag", victim.tag, "installLine", victim.installLine)
	}
}

// drain implements §4.F: flush usage-histogram credit for every line still
// resident at shutdown, as if it had just been evicted.
func (l *level) drain() {
	for set := 0; set < l.sets; set++ {
		for way := 0; way < l.geom.Associativity; way++ {
			ln := l.lineAt(set, way)
			l.attributeEviction(ln)
		}
	}
}

type invalidGeometryError struct{ msg string }

func (e *invalidGeometryError) Error() string { return e.msg }

func errInvalidGeometryf(format string, args ...any) error {
	return &invalidGeometryError{msg: fmt.Sprintf(format, args...)}
}
