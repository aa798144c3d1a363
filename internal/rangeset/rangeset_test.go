package rangeset

import "testing"

func TestTouchAndWasPresentFirstTouch(t *testing.T) {
	s := New(32)
	if present := s.TouchAndWasPresent(64, 4); present {
		t.Fatal("first touch must report not-present")
	}
	if present := s.TouchAndWasPresent(64, 4); !present {
		t.Fatal("repeat touch must report present")
	}
}

func TestTouchAndWasPresentAllocatesRangesLazily(t *testing.T) {
	s := New(32)
	if n := s.NumRanges(); n != 0 {
		t.Fatalf("expected 0 ranges before any touch, got %d", n)
	}
	s.TouchAndWasPresent(0, 4)
	if n := s.NumRanges(); n != 1 {
		t.Fatalf("expected 1 range after first touch, got %d", n)
	}
}

func TestTouchAndWasPresentGrowsAcrossManyRanges(t *testing.T) {
	s := New(32)
	// Touch one address in each of many widely separated 4MiB ranges, in
	// mixed order, to exercise the insertion-shift path as well as
	// capacity growth.
	addrs := []uint64{
		10 * RangeSize,
		1 * RangeSize,
		5 * RangeSize,
		0,
		20 * RangeSize,
	}
	for _, a := range addrs {
		if present := s.TouchAndWasPresent(a, 4); present {
			t.Fatalf("first touch of range base %#x must report not-present", a)
		}
	}
	if n := s.NumRanges(); n != len(addrs) {
		t.Fatalf("expected %d distinct ranges, got %d", len(addrs), n)
	}
	for _, a := range addrs {
		if present := s.TouchAndWasPresent(a, 4); !present {
			t.Fatalf("repeat touch of %#x must report present after all insertions", a)
		}
	}
}

func TestTouchAndWasPresentDoesNotConflateAdjacentBlocks(t *testing.T) {
	s := New(32)
	s.TouchAndWasPresent(0, 4)
	if present := s.TouchAndWasPresent(32, 4); present {
		t.Fatal("touching the next cache block must not be reported as already present")
	}
}
