package classify

import "testing"

// bb builds 2D bounding boxes from [minX, minY, maxX, maxY] rows. Row 0 is
// the unused background entry.
func bb(rows ...[4]float64) BoundingBoxes {
	b := BoundingBoxes{}
	for _, r := range rows {
		b.Min = append(b.Min, []float64{r[0], r[1]})
		b.Max = append(b.Max, []float64{r[2], r[3]})
	}
	return b
}

var background = [4]float64{}

func TestTransferLabelsIdentity(t *testing.T) {
	boxes := bb(background,
		[4]float64{0, 0, 2, 2},
		[4]float64{5, 5, 7, 7},
	)
	oldLabels := LabelVector{0, 1, 2}

	got, lost, conflicts := TransferLabels(oldLabels, boxes, boxes)

	want := LabelVector{0, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("identity transfer changed labels: got %v, want %v", got, want)
		}
	}
	if len(lost.Full)+len(lost.Partial) != 0 {
		t.Errorf("identity transfer lost labels: %+v", lost)
	}
	if len(conflicts.Conflict) != 0 {
		t.Errorf("identity transfer produced conflicts: %+v", conflicts)
	}
}

func TestTransferLabelsFullLoss(t *testing.T) {
	oldBoxes := bb(background, [4]float64{0, 0, 2, 2})
	newBoxes := bb(background, [4]float64{10, 10, 12, 12})
	oldLabels := LabelVector{0, 1}

	got, lost, conflicts := TransferLabels(oldLabels, oldBoxes, newBoxes)

	if got[1] != 0 {
		t.Errorf("disjoint object must stay unlabeled, got %v", got)
	}
	if len(lost.Full) != 1 {
		t.Fatalf("expected 1 fully lost label, got %+v", lost)
	}
	// Centroid of the lost old object.
	if c := lost.Full[0]; c[0] != 1 || c[1] != 1 {
		t.Errorf("expected lost centroid (1, 1), got %v", c)
	}
	if len(lost.Partial) != 0 || len(conflicts.Conflict) != 0 {
		t.Errorf("unexpected partial losses or conflicts: %+v %+v", lost, conflicts)
	}
}

func TestTransferLabelsPartialLoss(t *testing.T) {
	// One old object split into two new ones; the label follows the larger
	// overlap and the split is reported as a partial loss.
	oldBoxes := bb(background, [4]float64{0, 0, 4, 4})
	newBoxes := bb(background,
		[4]float64{0, 0, 3, 3}, // overlap area 9
		[4]float64{3, 0, 4, 4}, // overlap area 4
	)
	oldLabels := LabelVector{0, 5}

	got, lost, conflicts := TransferLabels(oldLabels, oldBoxes, newBoxes)

	if got[1] != 5 {
		t.Errorf("label should follow the best overlap, got %v", got)
	}
	if got[2] != 0 {
		t.Errorf("runner-up object must stay unlabeled, got %v", got)
	}
	if len(lost.Partial) != 1 {
		t.Fatalf("expected 1 partial loss, got %+v", lost)
	}
	if c := lost.Partial[0]; c[0] != 2 || c[1] != 2 {
		t.Errorf("expected partial-loss centroid (2, 2), got %v", c)
	}
	if len(lost.Full) != 0 || len(conflicts.Conflict) != 0 {
		t.Errorf("unexpected full losses or conflicts: %+v %+v", lost, conflicts)
	}
}

func TestTransferLabelsConflict(t *testing.T) {
	// Two old labeled objects merged into one new object: neither label wins.
	oldBoxes := bb(background,
		[4]float64{0, 0, 2, 2},
		[4]float64{0, 0, 2, 2},
	)
	newBoxes := bb(background, [4]float64{0, 0, 2, 2})
	oldLabels := LabelVector{0, 1, 2}

	got, lost, conflicts := TransferLabels(oldLabels, oldBoxes, newBoxes)

	if got[1] != 0 {
		t.Errorf("conflicted object must stay unlabeled, got %v", got)
	}
	if len(conflicts.Conflict) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", conflicts)
	}
	if c := conflicts.Conflict[0]; c[0] != 1 || c[1] != 1 {
		t.Errorf("expected conflict centroid (1, 1), got %v", c)
	}
	if len(lost.Full)+len(lost.Partial) != 0 {
		t.Errorf("unexpected losses: %+v", lost)
	}
}

func TestTransferLabelsUnlabeledObjectsIgnored(t *testing.T) {
	oldBoxes := bb(background,
		[4]float64{0, 0, 2, 2},
		[4]float64{0, 0, 2, 2}, // unlabeled, overlaps the same new object
	)
	newBoxes := bb(background, [4]float64{0, 0, 2, 2})
	oldLabels := LabelVector{0, 3, 0}

	got, _, conflicts := TransferLabels(oldLabels, oldBoxes, newBoxes)

	// The unlabeled old object must not create a conflict.
	if got[1] != 3 {
		t.Errorf("expected label 3 to transfer, got %v", got)
	}
	if len(conflicts.Conflict) != 0 {
		t.Errorf("unlabeled object caused a conflict: %+v", conflicts)
	}
}

func TestTransferLabelsBackgroundAlwaysZero(t *testing.T) {
	// Old object overlapping the area of new background: label lands on a
	// real new object only, and index 0 of the result is forced to zero.
	oldBoxes := bb(background, [4]float64{0, 0, 2, 2})
	newBoxes := bb([4]float64{0, 0, 2, 2}, [4]float64{0, 0, 2, 2})
	oldLabels := LabelVector{0, 4}

	got, _, _ := TransferLabels(oldLabels, oldBoxes, newBoxes)

	if got[0] != 0 {
		t.Errorf("background must never carry a label, got %v", got)
	}
	if got[1] != 4 {
		t.Errorf("expected label 4 on new object 1, got %v", got)
	}
}

func TestTransferLabelsNoNewObjects(t *testing.T) {
	oldBoxes := bb(background, [4]float64{0, 0, 2, 2})
	newBoxes := bb(background) // background only
	oldLabels := LabelVector{0, 1}

	got, lost, _ := TransferLabels(oldLabels, oldBoxes, newBoxes)

	if len(got) != 1 || got[0] != 0 {
		t.Errorf("expected background-only result, got %v", got)
	}
	if len(lost.Full) != 1 {
		t.Errorf("expected the label fully lost, got %+v", lost)
	}
}
