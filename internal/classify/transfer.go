package classify

import "math"

// Centroid is the per-axis center of an object's bounding box, reported for
// labels that could not be carried across a re-segmentation.
type Centroid []float64

// LostLabels lists old labeled objects whose label could not be transferred
// cleanly. Full: the object overlapped no new object at all. Partial: the
// object overlapped several new objects and only the best match was kept.
type LostLabels struct {
	Full    []Centroid
	Partial []Centroid
}

// ConflictLabels lists new objects claimed by more than one old labeled
// object; they stay unlabeled.
type ConflictLabels struct {
	Conflict []Centroid
}

type overlapBox struct {
	center []float64
	half   []float64
}

func newOverlapBox(min, max []float64) overlapBox {
	b := overlapBox{
		center: make([]float64, len(min)),
		half:   make([]float64, len(min)),
	}
	for a := range min {
		b.half[a] = 0.5 * (max[a] - min[a])
		b.center[a] = min[a] + b.half[a]
	}
	return b
}

// overlap returns the axis-aligned overlap volume (area in 2D) between two
// boxes, or 0 when any axis does not overlap.
func (b overlapBox) overlap(o overlapBox) float64 {
	vol := 1.0
	for a := range b.center {
		over := b.half[a] + o.half[a] - math.Abs(b.center[a]-o.center[a])
		if over <= 0 {
			return 0
		}
		vol *= over
	}
	return vol
}

// TransferLabels maps labels from an old segmentation's objects onto a new
// segmentation's objects by bounding-box overlap. The transfer is
// conservative: a label moves only when exactly one old object claims exactly
// one new object; everything ambiguous is left unlabeled and reported, never
// silently dropped. Background (new object 0) is always 0.
func TransferLabels(oldLabels LabelVector, oldBoxes, newBoxes BoundingBoxes) (LabelVector, LostLabels, ConflictLabels) {
	var lost LostLabels
	var conflicts ConflictLabels

	newLabels := make(LabelVector, newBoxes.Objects())

	// Labeled old objects only.
	var oldIdx []int
	for i, l := range oldLabels {
		if l != 0 && i < oldBoxes.Objects() {
			oldIdx = append(oldIdx, i)
		}
	}
	old := make([]overlapBox, len(oldIdx))
	for k, i := range oldIdx {
		old[k] = newOverlapBox(oldBoxes.Min[i], oldBoxes.Max[i])
	}

	// All new objects except background.
	nNew := newBoxes.Objects() - 1
	if nNew < 0 {
		nNew = 0
	}
	neu := make([]overlapBox, nNew)
	for j := 0; j < nNew; j++ {
		neu[j] = newOverlapBox(newBoxes.Min[j+1], newBoxes.Max[j+1])
	}

	overlaps := make([][]float64, len(old))
	for k := range old {
		overlaps[k] = make([]float64, len(neu))
		for j := range neu {
			overlaps[k][j] = old[k].overlap(neu[j])
		}
	}

	// Reduce each old object to its single best-overlap candidate.
	for k := range old {
		sum := 0.0
		best := 0
		for j, v := range overlaps[k] {
			sum += v
			if v > overlaps[k][best] {
				best = j
			}
		}
		if sum == 0 {
			lost.Full = append(lost.Full, Centroid(old[k].center))
			continue
		}
		if sum-overlaps[k][best] > 0 {
			lost.Partial = append(lost.Partial, Centroid(old[k].center))
		}
		for j := range overlaps[k] {
			overlaps[k][j] = 0
		}
		overlaps[k][best] = 1
	}

	// A new object inherits a label only when claimed exactly once.
	for j := range neu {
		claim := -1
		count := 0
		for k := range old {
			if overlaps[k][j] > 0 {
				claim = k
				count++
			}
		}
		switch {
		case count == 1:
			newLabels[j+1] = oldLabels[oldIdx[claim]]
		case count > 1:
			conflicts.Conflict = append(conflicts.Conflict, Centroid(neu[j].center))
		}
	}

	if len(newLabels) > 0 {
		newLabels[0] = 0
	}
	return newLabels, lost, conflicts
}
