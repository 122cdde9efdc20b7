package forward

import (
	"bytes"
	"testing"
)

func TestScratch_GrowthCorrectness(t *testing.T) {

	const n = 100
	region := make([]byte, 4)
	s := NewScratch(region)

	expected := make([]byte, 0, n)
	lastCap := s.Cap()
	for i := 0; i < n; i++ {
		s.Append(byte(i))
		expected = append(expected, byte(i))

		if s.Cap() < lastCap {
			t.Fatalf("capacity shrank from %d to %d after append %d", lastCap, s.Cap(), i)
		}
		lastCap = s.Cap()
	}

	if s.Cap() < n {
		t.Fatalf("expected capacity >= %d after %d appends, got: %d", n, n, s.Cap())
	}
	if !bytes.Equal(s.View(), expected) {
		t.Fatalf("contents diverged from appended sequence:\nexpected: %v\ngot:      %v", expected, s.View())
	}
}

func TestScratch_AppendGrowthRule(t *testing.T) {

	s := NewScratch(make([]byte, 2))
	s.Append(1)
	s.Append(2)

	// third append overflows; growth target is max(2*2+growthBias, 3)
	s.Append(3)
	if expect := 2*2 + growthBias; s.Cap() != expect {
		t.Fatalf("expected capacity %d after single-element growth, got: %d", expect, s.Cap())
	}
}

func TestScratch_AppendSliceGrowthRule(t *testing.T) {

	tests := []struct {
		name      string
		regionLen int
		chunks    [][]byte
		expectCap int
	}{
		{"fits without growth", 16, [][]byte{make([]byte, 10)}, 16},
		{"grows to fit large chunk", 4, [][]byte{make([]byte, 10)}, 10},
		{"grows by doubling for small chunk", 4, [][]byte{make([]byte, 4), make([]byte, 1)}, 8},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			s := NewScratch(make([]byte, tt.regionLen))
			for _, c := range tt.chunks {
				s.AppendSlice(c)
			}
			if s.Cap() != tt.expectCap {
				t.Errorf("failed: %s, expected cap: %d, got: %d", tt.name, tt.expectCap, s.Cap())
			}
		})
	}
}

func TestScratch_AppendSlicePreservesOrder(t *testing.T) {

	s := NewScratch(make([]byte, 8))
	s.AppendSlice([]byte("first-"))
	s.AppendSlice([]byte("second-"))
	s.AppendSlice([]byte("third"))

	if got := string(s.View()); got != "first-second-third" {
		t.Fatalf("expected concatenation in append order, got: %q", got)
	}
}

func TestScratch_TruncateThenReuse(t *testing.T) {

	s := NewScratch(make([]int, 4))
	for i := 0; i < 10; i++ {
		s.Append(i)
	}
	capBefore := s.Cap()

	s.Truncate(0)
	if s.Len() != 0 {
		t.Fatalf("expected length 0 after Truncate(0), got: %d", s.Len())
	}
	if s.Cap() != capBefore {
		t.Fatalf("Truncate changed capacity from %d to %d", capBefore, s.Cap())
	}

	// refilling within the retained capacity must not grow
	for i := 0; i < capBefore; i++ {
		s.Append(i * 2)
	}
	if s.Cap() != capBefore {
		t.Fatalf("reuse within capacity reallocated: cap %d -> %d", capBefore, s.Cap())
	}
	for i, v := range s.View() {
		if v != i*2 {
			t.Fatalf("unexpected element at %d after reuse: %d", i, v)
		}
	}
}

func TestScratch_TruncateBeyondLengthPanics(t *testing.T) {

	tests := []struct {
		name string
		n    int
	}{
		{"beyond length", 3},
		{"negative", -1},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			s := NewScratch(make([]byte, 4))
			s.AppendSlice([]byte{1, 2})

			defer func() {
				if recover() == nil {
					t.Errorf("expected panic from Truncate(%d) with length 2", tt.n)
				}
			}()
			s.Truncate(tt.n)
		})
	}
}

func TestScratch_OwnershipTransition(t *testing.T) {

	region := make([]byte, 4)
	s := NewScratch(region)

	s.AppendSlice([]byte{1, 2, 3, 4})
	if s.Owned() {
		t.Fatal("buffer claims ownership before any growth")
	}

	// while borrowed, writes land in the caller's region
	if !bytes.Equal(region, []byte{1, 2, 3, 4}) {
		t.Fatalf("caller region not used for borrowed storage: %v", region)
	}

	// overflow forces the borrowed-to-owned transition
	s.Append(5)
	if !s.Owned() {
		t.Fatal("buffer does not claim ownership after growth")
	}
	if !bytes.Equal(s.View(), []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("contents not preserved across promotion: %v", s.View())
	}

	// the abandoned region must never be written again
	snapshot := append([]byte(nil), region...)
	s.Truncate(0)
	s.AppendSlice([]byte{9, 9, 9, 9})
	if !bytes.Equal(region, snapshot) {
		t.Fatalf("caller region mutated after promotion: %v", region)
	}
}

func TestScratch_UseAfterReleasePanics(t *testing.T) {

	mustPanic := func(t *testing.T, name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("expected panic from %s after Release", name)
			}
		}()
		fn()
	}

	s := NewScratch(make([]byte, 4))
	s.Append(1)
	s.Release()

	mustPanic(t, "Append", func() { s.Append(2) })
	mustPanic(t, "AppendSlice", func() { s.AppendSlice([]byte{2}) })
	mustPanic(t, "View", func() { _ = s.View() })
	mustPanic(t, "Truncate", func() { s.Truncate(0) })
	mustPanic(t, "Release", func() { s.Release() })
}
