package classify

import (
	"fmt"
	"math"
	"sync"
)

// fakeFeatures serves canned feature sets and counts how often each time step
// is pulled, so tests can assert on caching behaviour.
type fakeFeatures struct {
	mu    sync.Mutex
	sets  map[int]FeatureSet
	calls map[int]int
	err   error
}

func newFakeFeatures(sets map[int]FeatureSet) *fakeFeatures {
	return &fakeFeatures{sets: sets, calls: map[int]int{}}
}

func (f *fakeFeatures) Features(times []int) (map[int]FeatureSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int]FeatureSet, len(times))
	for _, t := range times {
		fs, ok := f.sets[t]
		if !ok {
			return nil, fmt.Errorf("no features for time %d", t)
		}
		f.calls[t]++
		out[t] = fs
	}
	return out, nil
}

func (f *fakeFeatures) pulls(t int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[t]
}

// fakeSegmentation serves canned object images.
type fakeSegmentation struct {
	slices map[int]*ObjectImage
	steps  int
}

func (s *fakeSegmentation) Slice(t int) (*ObjectImage, error) {
	img, ok := s.slices[t]
	if !ok {
		return nil, fmt.Errorf("no slice for time %d", t)
	}
	return img, nil
}

func (s *fakeSegmentation) TimeSteps() int { return s.steps }

// stubClassifier returns a fixed probability matrix regardless of input.
type stubClassifier struct {
	probs [][]float64
	err   error
}

func (c *stubClassifier) PredictProbabilities(features [][]float64) ([][]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.probs, nil
}

// memorizingLearner builds a nearest-row classifier: prediction assigns
// probability 1 to the class of the closest training row. Good enough to make
// end-to-end train/predict flows deterministic in tests.
type memorizingLearner struct{}

func (memorizingLearner) Train(features [][]float64, labels []uint32) (Classifier, float64, error) {
	rows := make([][]float64, len(features))
	for i, r := range features {
		rows[i] = append([]float64(nil), r...)
	}
	var classes uint32
	for _, l := range labels {
		if l > classes {
			classes = l
		}
	}
	return &memorizedClassifier{
		rows:    rows,
		labels:  append([]uint32(nil), labels...),
		classes: int(classes),
	}, 0, nil
}

type memorizedClassifier struct {
	rows    [][]float64
	labels  []uint32
	classes int
}

func (c *memorizedClassifier) PredictProbabilities(features [][]float64) ([][]float64, error) {
	out := make([][]float64, len(features))
	for i, row := range features {
		best, bestDist := 0, math.Inf(1)
		for j, tr := range c.rows {
			d := 0.0
			for a := range row {
				diff := row[a] - tr[a]
				d += diff * diff
			}
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		probs := make([]float64, c.classes)
		probs[c.labels[best]-1] = 1
		out[i] = probs
	}
	return out, nil
}

// testFeatureSet bundles one scalar feature per object plus the reserved
// bounding-box coordinates.
func testFeatureSet(values [][]float64, mins, maxs [][]float64) FeatureSet {
	return FeatureSet{
		"Standard Object Features": {"Mean": values},
		DefaultFeaturesKey: {
			CoordMinKey: mins,
			CoordMaxKey: maxs,
		},
	}
}

func testSelection() FeatureSelection {
	return FeatureSelection{"Standard Object Features": {"Mean": true}}
}
