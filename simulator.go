// Package causage implements a memory-reference cache simulator: it
// classifies every data load/store of an instrumented program as a hit or
// a miss in a modeled multi-level data cache, and for each miss assigns a
// compulsory/conflict/capacity cause, attributing cache-line utilization
// on eviction back to the source location that installed the line.
package causage

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/mqutaish96/causage/internal/symtab"
)

// Kind distinguishes the three reference kinds the simulator accepts.
type Kind int

const (
	InstrFetch Kind = iota
	DataRead
	DataWrite
)

// Simulator is the single aggregate holding all per-run state: the three
// modeled levels, the two oracles, and the interned counter table. There
// is no package-level mutable state (§9 Design Notes); everything lives
// here, threaded through the public API.
//
// A Simulator must not outlive the CounterBlock pointers it hands out via
// Intern — level lines hold borrowed references to them for
// eviction accounting.
type Simulator struct {
	i1 *level
	d1 *level
	ll *level

	infi  *infiniteCache
	faD1  *fullyAssocCache
	faLL  *fullyAssocCache

	table *symtab.Table[CounterBlock]

	log      *slog.Logger
	debugOut io.Writer
}

// Options configures optional ambient behavior of a Simulator: a debug
// log writer (causage.dbg) and an slog.Logger for error-class events
// (§7 Classification ambiguity). Both are nil-safe; a zero Options
// produces a Simulator with debugging fully disabled, at zero per-
// reference cost.
type Options struct {
	DebugOut io.Writer
	Logger   *slog.Logger
}

// New constructs and initializes a Simulator (§6 Init). i1Geom and llGeom
// must share line size; every geometry must satisfy GeometryConfig's
// divisibility constraints.
func New(i1Geom, d1Geom, llGeom GeometryConfig, opts Options) (*Simulator, error) {
	for name, g := range map[string]GeometryConfig{"I1": i1Geom, "D1": d1Geom, "LL": llGeom} {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("causage: invalid %s geometry: %w", name, err)
		}
	}
	if i1Geom.LineSizeBytes != llGeom.LineSizeBytes {
		return nil, fmt.Errorf("causage: I1 line size (%d) must equal LL line size (%d)", i1Geom.LineSizeBytes, llGeom.LineSizeBytes)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	s := &Simulator{
		i1:   newLevel(LevelI1, i1Geom, log), // I-fetches never carry a source CounterBlock, so no histogram is ever attributed here
		d1:   newLevel(LevelD1, d1Geom, log),
		ll:   newLevel(LevelLL, llGeom, log),
		infi: newInfiniteCache(d1Geom.LineSizeBytes),
		faD1: newFullyAssocCache(d1Geom.SizeBytes, d1Geom.LineSizeBytes),
		faLL: newFullyAssocCache(llGeom.SizeBytes, llGeom.LineSizeBytes),
		log:  log,
	}
	s.table = symtab.New[CounterBlock](1024, func(loc symtab.Loc) *CounterBlock {
		return &CounterBlock{Loc: SourceLoc{File: loc.File, Function: loc.Function, Line: loc.Line}}
	})
	s.debugOut = opts.DebugOut
	return s, nil
}

// Intern returns the stable CounterBlock for loc, allocating one on first
// sight. Hosts that want to read counters back after Finish should hold
// onto the pointer returned here (or call Each).
func (s *Simulator) Intern(loc SourceLoc) *CounterBlock {
	return s.table.Intern(symtab.Loc{File: loc.File, Function: loc.Function, Line: loc.Line})
}

// Each calls fn once per interned source location and its CounterBlock.
func (s *Simulator) Each(fn func(SourceLoc, *CounterBlock)) {
	s.table.Each(func(l symtab.Loc, cb *CounterBlock) {
		fn(SourceLoc{File: l.File, Function: l.Function, Line: l.Line}, cb)
	})
}

// IsInstrNoXEligible is the pure predicate (§6) used at instrumentation
// time to decide whether InstrRefNoX may be used for a given reference:
// it must not straddle two I1 lines, and I1/LL line sizes must match
// (checked once at construction, so only the straddle check remains).
func (s *Simulator) IsInstrNoXEligible(addr uint64, size uint8) bool {
	lineBits := log2(s.i1.geom.LineSizeBytes)
	block1 := addr >> lineBits
	block2 := (addr + uint64(size) - 1) >> lineBits
	return block1 == block2
}

// InstrRef is the general instruction-fetch path (§4.E.2): it handles an
// arbitrary one- or two-line straddle and always re-derives the set/word
// range per half.
func (s *Simulator) InstrRef(addr uint64, size uint8) {
	if s.refIsMiss(s.i1, addr, size, nil, 0) {
		s.refIsMiss(s.ll, addr, size, nil, 0)
	}
}

// InstrRefNoX is the fast instruction-fetch path (§4.E.1): callers must
// have established IsInstrNoXEligible(addr, size) beforehand. It reuses
// the I1 block address as the LL tag directly, since I1 and LL line sizes
// are equal.
func (s *Simulator) InstrRefNoX(addr uint64, size uint8) {
	lineBits := log2(s.i1.geom.LineSizeBytes)
	block := addr >> lineBits
	set := int(block & s.i1.setMask)

	wordBegin, wordEnd := wordRange(addr, size, s.i1.wordBits, s.i1.geom.LineSizeBytes)

	if s.i1.access(set, block, wordBegin, wordEnd, nil, 0) {
		llSet := int(block & s.ll.setMask)
		s.ll.access(llSet, block, wordBegin, wordEnd, nil, 0)
	}
}

// refIsMiss drives a single level across a possible one- or two-line
// straddle, returning true iff the reference missed overall: both halves
// always run (state is updated as a side effect of each), and the
// reference counts as one miss if either half missed — the cache-hierarchy
// straddle rule used throughout §4.E.
func (s *Simulator) refIsMiss(lv *level, addr uint64, size uint8, srcLoc *CounterBlock, srcLine int) bool {
	lineBits := log2(lv.geom.LineSizeBytes)
	block1 := addr >> lineBits
	block2 := (addr + uint64(size) - 1) >> lineBits

	if block1 == block2 {
		set := int(block1 & lv.setMask)
		wordBegin, wordEnd := wordRange(addr, size, lv.wordBits, lv.geom.LineSizeBytes)
		return lv.access(set, block1, wordBegin, wordEnd, srcLoc, srcLine)
	}

	size1 := uint8(lv.geom.LineSizeBytes - (addr & (lv.geom.LineSizeBytes - 1)))
	addr2 := addr + uint64(size1)
	size2 := size - size1

	set1 := int(block1 & lv.setMask)
	set2 := int(block2 & lv.setMask)
	wordBegin1, wordEnd1 := wordRange(addr, size1, lv.wordBits, lv.geom.LineSizeBytes)
	wordBegin2, wordEnd2 := wordRange(addr2, size2, lv.wordBits, lv.geom.LineSizeBytes)

	miss1 := lv.access(set1, block1, wordBegin1, wordEnd1, srcLoc, srcLine)
	miss2 := lv.access(set2, block2, wordBegin2, wordEnd2, srcLoc, srcLine)
	return miss1 || miss2
}

// wordRange computes the inclusive [begin, end] word-within-line range
// touched by a non-straddling reference at addr, size bytes, given a
// level's word-shift and line size.
func wordRange(addr uint64, size uint8, wordBits uint, lineSize uint64) (begin, end uint) {
	offset := addr & (lineSize - 1)
	begin = uint(offset >> wordBits)
	end = uint((offset + uint64(size) - 1) >> wordBits)
	return
}

// DataRef is the data-reference coordinator (§4.E.3). The infinite oracle,
// both fully-associative oracles, and the D1 level model each
// independently know how to handle a straddling reference (the oracles
// via their own two-half composition, D1 via refIsMiss); DataRef drives
// them in the fixed order the ordering guarantee (§5) requires and
// classifies any resulting miss as compulsory, conflict, or capacity.
// Returns true iff D1 missed.
func (s *Simulator) DataRef(addr uint64, size uint8, kind Kind, cb *CounterBlock, srcLine int) bool {
	cc := s.ccFor(cb, kind)
	cc.Accesses++

	missInfi := !s.infi.touchAndWasPresent(addr, size)
	missFAD1 := s.faD1.isMiss(addr, size)
	missFALL := s.faLL.isMiss(addr, size)

	if !s.refIsMiss(s.d1, addr, size, cb, srcLine) {
		return false
	}

	class := classify(missInfi, missFAD1)
	cc.addMiss(LevelD1, class)
	s.debugf("D1 miss addr=%#x class=%s line=%d", addr, class, srcLine)

	if s.refIsMiss(s.ll, addr, size, cb, srcLine) {
		llClass := classify(missInfi, missFALL)
		cc.addMiss(LevelLL, llClass)
		s.debugf("LL miss addr=%#x class=%s line=%d", addr, llClass, srcLine)
	}
	return true
}

func (s *Simulator) ccFor(cb *CounterBlock, kind Kind) *CacheCC {
	if kind == DataWrite {
		return &cb.Dw
	}
	return &cb.Dr
}

// classify implements the miss-cause rule from §1/§4.E: compulsory if the
// infinite oracle never saw this line before; else conflict if a
// fully-associative cache of equal capacity would have hit; else capacity.
func classify(missInfi, missFA bool) MissClass {
	switch {
	case missInfi:
		return MissCompulsory
	case !missFA:
		return MissConflict
	default:
		return MissCapacity
	}
}

// Finish implements §4.F: it drains every still-resident D1 and LL line,
// crediting its usage-histogram bin as if it had just been evicted. Debug
// lines are written to DebugOut as they occur; Finish does not flush or
// close it.
func (s *Simulator) Finish() {
	s.d1.drain()
	s.ll.drain()
}

func (s *Simulator) debugf(format string, args ...any) {
	if s.debugOut == nil {
		return
	}
	fmt.Fprintf(s.debugOut, format+"\n", args...)
}
