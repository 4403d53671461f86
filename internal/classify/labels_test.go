package classify

import "testing"

func TestLabelVectorGrown(t *testing.T) {
	var v LabelVector
	v = v.Grown(3)
	if len(v) != 4 {
		t.Fatalf("expected length 4 after growing to index 3, got %d", len(v))
	}
	v[3] = 7

	// Growing to a smaller index reuses the vector and keeps contents.
	w := v.Grown(1)
	if len(w) != 4 || w[3] != 7 {
		t.Errorf("grow to smaller index changed vector: %v", w)
	}

	// Growing further zero-extends and preserves.
	w = v.Grown(6)
	if len(w) != 7 || w[3] != 7 || w[6] != 0 {
		t.Errorf("unexpected grown vector: %v", w)
	}
}

func TestLabelVectorMax(t *testing.T) {
	if (LabelVector{}).Max() != 0 {
		t.Error("empty vector max should be 0")
	}
	if (LabelVector{0, 3, 1}).Max() != 3 {
		t.Error("expected max 3")
	}
}

func TestLabelStoreAssign(t *testing.T) {
	s := NewLabelStore()
	s.Assign(2, 5, 3)
	v := s.Get(2)
	if len(v) != 6 || v[5] != 3 {
		t.Fatalf("unexpected vector after assign: %v", v)
	}
	if s.Max() != 3 {
		t.Errorf("expected store max 3, got %d", s.Max())
	}

	// Re-assigning to 0 unlabels without shrinking the vector.
	s.Assign(2, 5, 0)
	if len(s.Get(2)) != 6 {
		t.Errorf("vector shrank on unlabel: %v", s.Get(2))
	}
	if s.Max() != 0 {
		t.Errorf("expected store max 0, got %d", s.Max())
	}
}

func TestLabelStoreLabeledTimes(t *testing.T) {
	s := NewLabelStore()
	s.Assign(0, 1, 2)
	s.Assign(3, 1, 1)
	s.Assign(5, 2, 0) // array exists but no nonzero label

	got := s.LabeledTimes()
	if len(got) != 2 {
		t.Fatalf("expected 2 labeled times, got %v", got)
	}
	seen := map[int]bool{}
	for _, time := range got {
		seen[time] = true
	}
	if !seen[0] || !seen[3] {
		t.Errorf("expected times 0 and 3, got %v", got)
	}
	if len(s.Times()) != 3 {
		t.Errorf("expected 3 times with arrays, got %v", s.Times())
	}
}

func TestLabelStoreSnapshotIsIndependent(t *testing.T) {
	s := NewLabelStore()
	s.Assign(0, 1, 2)
	snap := s.Snapshot()
	s.Assign(0, 1, 5)
	if snap[0][1] != 2 {
		t.Errorf("snapshot was mutated through the store: %v", snap[0])
	}
}

func TestLabelStoreRemoveClass(t *testing.T) {
	s := NewLabelStore()
	s.Set(0, LabelVector{0, 1, 2, 3, 2})

	s.RemoveClass(2)

	want := LabelVector{0, 1, 0, 2, 0}
	got := s.Get(0)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("after removing class 2: got %v, want %v", got, want)
		}
	}
	if s.Max() != 2 {
		t.Errorf("expected max 2 after removal, got %d", s.Max())
	}

	// Class 0 is background, not removable.
	s.RemoveClass(0)
	if s.Get(0)[3] != 2 {
		t.Error("RemoveClass(0) must be a no-op")
	}
}

func TestMaxLabelTracker(t *testing.T) {
	a, b := NewLabelStore(), NewLabelStore()
	a.Assign(0, 1, 2)
	b.Assign(0, 1, 5)

	var tr MaxLabelTracker
	tr.Update(a, b, nil)
	if tr.Max() != 5 {
		t.Errorf("expected tracked max 5, got %d", tr.Max())
	}

	b.RemoveClass(5)
	tr.Update(a, b)
	if tr.Max() != 2 {
		t.Errorf("expected tracked max 2 after removal, got %d", tr.Max())
	}
}
