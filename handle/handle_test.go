package handle

import "testing"

func TestSetAddRemove(t *testing.T) {
	s := NewSet()
	s.Add("a")
	s.Add("a")
	if !s.Has("a") {
		t.Fatalf("Has(a) = false, want true")
	}
	s.Remove("a")
	if !s.Has("a") {
		t.Fatalf("Has(a) = false after one Remove, want true (still one reference left)")
	}
	s.Remove("a")
	if s.Has("a") {
		t.Fatalf("Has(a) = true after removing every reference, want false")
	}
}

func TestSetRemoveAbsentIsNoOp(t *testing.T) {
	s := NewSet()
	s.Remove("missing")
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestReconcile(t *testing.T) {
	s := NewSetFrom("a", "b")
	reconciled := s.Reconcile([]Handle{"c"}, []Handle{"a"})
	if reconciled.Has("a") {
		t.Errorf("reconciled set still has deleted handle a")
	}
	if !reconciled.Has("b") || !reconciled.Has("c") {
		t.Errorf("reconciled set missing b or c: %v", reconciled.Slice())
	}
	if s.Has("c") {
		t.Errorf("Reconcile mutated the receiver")
	}
}

func TestSliceIsSorted(t *testing.T) {
	s := NewSetFrom("c", "a", "b")
	got := s.Slice()
	want := []Handle{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice() = %v, want %v", got, want)
			break
		}
	}
}
