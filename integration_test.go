package causage

import "testing"

// Scenario geometries mirror the worked examples: D1 256B/4-way/64B line
// (1 set), LL 1024B/8-way/64B line (2 sets).
func scenarioGeoms() (i1, d1, ll GeometryConfig) {
	i1 = GeometryConfig{SizeBytes: 64, Associativity: 1, LineSizeBytes: 64}
	d1 = GeometryConfig{SizeBytes: 256, Associativity: 4, LineSizeBytes: 64}
	ll = GeometryConfig{SizeBytes: 1024, Associativity: 8, LineSizeBytes: 64}
	return
}

func TestScenarioS1AllCompulsory(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s1.c", Function: "f", Line: 1})

	addrs := []uint64{0x0000, 0x0040, 0x0080, 0x00C0}
	for _, a := range addrs {
		if miss := sim.DataRef(a, 8, DataRead, cb, 1); !miss {
			t.Fatalf("addr %#x: expected D1 miss", a)
		}
	}

	if cb.Dr.M1 != 4 || cb.Dr.M1Compulsory != 4 {
		t.Fatalf("expected 4 compulsory D1 misses, got %+v", cb.Dr)
	}
	if cb.Dr.ML != 4 || cb.Dr.MLCompulsory != 4 {
		t.Fatalf("expected 4 compulsory LL misses, got %+v", cb.Dr)
	}
	for _, n := range cb.UsageHistogramD1 {
		if n != 0 {
			t.Fatalf("no line has been evicted yet, histogram must be untouched: %+v", cb.UsageHistogramD1)
		}
	}
}

func TestScenarioS2NewLineIsCompulsoryNotConflict(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s2.c", Function: "f", Line: 1})

	for _, a := range []uint64{0x0000, 0x0040, 0x0080, 0x00C0} {
		sim.DataRef(a, 8, DataRead, cb, 1)
	}
	sim.DataRef(0x0100, 8, DataRead, cb, 1)

	if cb.Dr.M1Compulsory != 5 || cb.Dr.M1Conflict != 0 || cb.Dr.M1Capacity != 0 {
		t.Fatalf("a never-before-seen line must classify as compulsory even when it evicts another: %+v", cb.Dr)
	}
}

func TestScenarioS3CapacityOnReseenEvictedLine(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s3.c", Function: "f", Line: 1})

	seq := []uint64{0x0000, 0x0040, 0x0080, 0x00C0, 0x0100, 0x0000}
	for _, a := range seq {
		sim.DataRef(a, 8, DataRead, cb, 1)
	}

	if cb.Dr.M1Capacity != 1 {
		t.Fatalf("expected the re-seen, capacity-evicted line to classify as capacity, got %+v", cb.Dr)
	}
}

func TestScenarioS4Conflict(t *testing.T) {
	i1 := GeometryConfig{SizeBytes: 64, Associativity: 1, LineSizeBytes: 64}
	d1 := GeometryConfig{SizeBytes: 128, Associativity: 1, LineSizeBytes: 64} // 2 sets, direct-mapped
	ll := GeometryConfig{SizeBytes: 1024, Associativity: 8, LineSizeBytes: 64}
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s4.c", Function: "f", Line: 1})

	sim.DataRef(0x0, 8, DataRead, cb, 1)
	sim.DataRef(0x80, 8, DataRead, cb, 1)
	sim.DataRef(0x0, 8, DataRead, cb, 1)

	if cb.Dr.M1Conflict != 1 {
		t.Fatalf("expected the final re-reference to classify as conflict, got %+v", cb.Dr)
	}
}

func TestScenarioS5UtilizationHistogram(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s5.c", Function: "f", Line: 1})

	// Bring in one line, touch three distinct 8-byte words within it.
	sim.DataRef(0x0, 8, DataRead, cb, 1)
	sim.DataRef(0x8, 8, DataRead, cb, 1)
	sim.DataRef(0x10, 8, DataRead, cb, 1)

	// Evict it by filling the remaining 3 ways and then a 5th distinct line.
	for _, a := range []uint64{0x40, 0x80, 0xC0, 0x100} {
		sim.DataRef(a, 8, DataRead, cb, 1)
	}

	if cb.UsageHistogramD1[2] != 1 {
		t.Fatalf("expected bin index 2 (3 words) to be credited once, got %+v", cb.UsageHistogramD1)
	}
}

func TestScenarioS6Straddle(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "s6.c", Function: "f", Line: 1})

	miss := sim.refIsMiss(sim.d1, 0x3C, 8, cb, 1)
	if !miss {
		t.Fatal("straddling reference into two fresh lines must miss")
	}

	findByTag := func(tag uint64) *cacheLine {
		for way := 0; way < sim.d1.geom.Associativity; way++ {
			ln := sim.d1.lineAt(0, way)
			if ln.valid && ln.tag == tag {
				return ln
			}
		}
		return nil
	}
	line0 := findByTag(0)
	line1 := findByTag(1)

	if line0 == nil || line1 == nil {
		t.Fatalf("expected both block 0 and block 1 to be resident after the straddle")
	}
	if popCount(line0.bitvector) == 0 || popCount(line1.bitvector) == 0 {
		t.Fatalf("expected both halves' bitvectors to be updated: %#x, %#x", line0.bitvector, line1.bitvector)
	}

	// Repeating the same straddling reference must now hit in both halves.
	if miss := sim.refIsMiss(sim.d1, 0x3C, 8, cb, 1); miss {
		t.Fatal("repeat straddling reference must hit in both halves")
	}
}

// Property 1: LRU permutation — each set's way order is always a
// permutation of 0..assoc after any sequence of accesses.
func TestPropertyLRUIsAlwaysAPermutation(t *testing.T) {
	l := newTestLevel(t, LevelD1)
	cb := &CounterBlock{}
	for tag := uint64(0); tag < 50; tag++ {
		l.access(0, tag, 0, 0, cb, 0)
	}
	seen := make(map[int]bool)
	for _, way := range l.lru[0] {
		if seen[way] {
			t.Fatalf("way %d appears more than once in LRU order %v", way, l.lru[0])
		}
		seen[way] = true
	}
	if len(seen) != l.geom.Associativity {
		t.Fatalf("LRU order %v is not a full permutation of 0..%d", l.lru[0], l.geom.Associativity)
	}
}

// Property 9: counter idempotence — running the same trace twice through
// fresh state yields identical counters.
func TestPropertyCounterIdempotence(t *testing.T) {
	trace := []uint64{0x0, 0x40, 0x80, 0xC0, 0x100, 0x0, 0x40, 0x180}

	run := func() CacheCC {
		i1, d1, ll := scenarioGeoms()
		sim, err := New(i1, d1, ll, Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		cb := sim.Intern(SourceLoc{File: "idem.c", Function: "f", Line: 1})
		for _, a := range trace {
			sim.DataRef(a, 8, DataRead, cb, 1)
		}
		sim.Finish()
		return cb.Dr
	}

	first := run()
	second := run()
	if first != second {
		t.Fatalf("counters diverged across identical runs: %+v vs %+v", first, second)
	}
}

// Property 4: classification partition — sum of compulsory+conflict+
// capacity misses equals total misses, across a longer mixed trace.
func TestPropertyClassificationPartitionHolds(t *testing.T) {
	i1, d1, ll := scenarioGeoms()
	sim, err := New(i1, d1, ll, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := sim.Intern(SourceLoc{File: "part.c", Function: "f", Line: 1})

	for i := uint64(0); i < 200; i++ {
		addr := (i * 37) % 4096
		sim.DataRef(addr, 8, DataRead, cb, 1)
	}

	if sum := cb.Dr.M1Compulsory + cb.Dr.M1Conflict + cb.Dr.M1Capacity; sum != cb.Dr.M1 {
		t.Fatalf("D1 classification partition broken: %d != %d", sum, cb.Dr.M1)
	}
	if sum := cb.Dr.MLCompulsory + cb.Dr.MLConflict + cb.Dr.MLCapacity; sum != cb.Dr.ML {
		t.Fatalf("LL classification partition broken: %d != %d", sum, cb.Dr.ML)
	}
}
