package classify

import "sync"

// LabelVector holds per-object class ids for one (lane, time), indexed by
// object id. Value 0 means unlabeled. The vector only ever grows; it is never
// truncated, so previously assigned labels survive new higher object indices.
type LabelVector []uint32

// Grown returns a vector that can be indexed up to object id n, zero-extending
// if needed. The receiver is reused when already large enough.
func (v LabelVector) Grown(n int) LabelVector {
	if n < len(v) {
		return v
	}
	out := make(LabelVector, n+1)
	copy(out, v)
	return out
}

// Clone returns an independent copy.
func (v LabelVector) Clone() LabelVector {
	out := make(LabelVector, len(v))
	copy(out, v)
	return out
}

// Max returns the highest label value in the vector.
func (v LabelVector) Max() uint32 {
	var max uint32
	for _, l := range v {
		if l > max {
			max = l
		}
	}
	return max
}

// LabelStore holds the label arrays of one lane, partitioned by time step.
// A lane is manipulated by a single logical caller at a time, so the store
// does no locking of its own.
type LabelStore struct {
	byTime map[int]LabelVector
}

// NewLabelStore returns an empty store.
func NewLabelStore() *LabelStore {
	return &LabelStore{byTime: map[int]LabelVector{}}
}

// Get returns the label vector for a time step (nil if none assigned yet).
func (s *LabelStore) Get(t int) LabelVector {
	return s.byTime[t]
}

// Set replaces the label vector for a time step.
func (s *LabelStore) Set(t int, v LabelVector) {
	s.byTime[t] = v
}

// Assign sets the label of one object, growing the vector on demand.
func (s *LabelStore) Assign(t, object int, label uint32) {
	v := s.byTime[t].Grown(object)
	v[object] = label
	s.byTime[t] = v
}

// Snapshot returns an independent copy of all label arrays, used to retain
// the pre-change labels when a segmentation is recomputed.
func (s *LabelStore) Snapshot() map[int]LabelVector {
	out := make(map[int]LabelVector, len(s.byTime))
	for t, v := range s.byTime {
		out[t] = v.Clone()
	}
	return out
}

// Replace swaps in a whole new set of label arrays.
func (s *LabelStore) Replace(labels map[int]LabelVector) {
	s.byTime = make(map[int]LabelVector, len(labels))
	for t, v := range labels {
		s.byTime[t] = v
	}
}

// Times returns the time steps that currently carry any label array.
func (s *LabelStore) Times() []int {
	out := make([]int, 0, len(s.byTime))
	for t := range s.byTime {
		out = append(out, t)
	}
	return out
}

// LabeledTimes returns the time steps with at least one nonzero label.
func (s *LabelStore) LabeledTimes() []int {
	var out []int
	for t, v := range s.byTime {
		for _, l := range v {
			if l != 0 {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Max returns the highest label across all time steps of the lane.
func (s *LabelStore) Max() uint32 {
	var max uint32
	for _, v := range s.byTime {
		if m := v.Max(); m > max {
			max = m
		}
	}
	return max
}

// RemoveClass zeroes every use of the given class and renumbers higher
// classes down by one, keeping class ids dense.
func (s *LabelStore) RemoveClass(class uint32) {
	if class == 0 {
		return
	}
	for _, v := range s.byTime {
		for i, l := range v {
			switch {
			case l == class:
				v[i] = 0
			case l > class:
				v[i] = l - 1
			}
		}
	}
}

// MaxLabelTracker caches the maximum label value across a set of lanes. It is
// recomputed on every change notification and sizes downstream outputs (the
// number of probability channels is max label).
type MaxLabelTracker struct {
	mu  sync.Mutex
	max uint32
}

// Update recomputes the tracked maximum from the given stores.
func (tr *MaxLabelTracker) Update(stores ...*LabelStore) {
	var max uint32
	for _, s := range stores {
		if s == nil {
			continue
		}
		if m := s.Max(); m > max {
			max = m
		}
	}
	tr.mu.Lock()
	tr.max = max
	tr.mu.Unlock()
}

// Max returns the last recomputed maximum label value.
func (tr *MaxLabelTracker) Max() uint32 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.max
}
