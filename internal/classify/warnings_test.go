package classify

import (
	"strings"
	"testing"
)

func TestFormatWarningEmpty(t *testing.T) {
	w, err := FormatWarning(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Empty() {
		t.Errorf("nil report should yield empty warning, got %+v", w)
	}

	w, err = FormatWarning(NewBadObjectsReport())
	if err != nil {
		t.Fatal(err)
	}
	if !w.Empty() {
		t.Errorf("empty report should yield empty warning, got %+v", w)
	}
}

func TestFormatWarningSingleTime(t *testing.T) {
	r := NewBadObjectsReport()
	r.AddObject(0, 0, 3)
	r.AddObject(0, 0, 1)

	w, err := FormatWarning(r)
	if err != nil {
		t.Fatal(err)
	}
	if w.Title != "Warning" {
		t.Errorf("unexpected title %q", w.Title)
	}
	if w.Text != "Encountered bad objects/features while training." {
		t.Errorf("unexpected text %q", w.Text)
	}

	want := strings.Join([]string{
		"The following objects had bad features:",
		"    at image index 0",
		"        Objects 1, 3",
	}, "\n")
	if w.Details != want {
		t.Errorf("details mismatch:\ngot:\n%s\nwant:\n%s", w.Details, want)
	}
}

func TestFormatWarningMultipleTimes(t *testing.T) {
	r := NewBadObjectsReport()
	r.AddObject(1, 4, 2)
	r.AddObject(1, 0, 7)

	w, err := FormatWarning(r)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"The following objects had bad features:",
		"    at image index 1",
		"        at time 0",
		"            Objects 7",
		"        at time 4",
		"            Objects 2",
	}, "\n")
	if w.Details != want {
		t.Errorf("details mismatch:\ngot:\n%s\nwant:\n%s", w.Details, want)
	}
}

func TestFormatWarningFeatures(t *testing.T) {
	r := NewBadObjectsReport()
	r.AddFeature(ColumnName{Plugin: "pluginB", Feature: "size"})
	r.AddFeature(ColumnName{Plugin: "pluginA", Feature: "mean"})
	r.AddFeature(ColumnName{Plugin: "pluginB", Feature: "size"}) // duplicate

	w, err := FormatWarning(r)
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"The following features had bad values:",
		"pluginA/mean",
		"pluginB/size",
	}, "\n")
	if w.Details != want {
		t.Errorf("details mismatch:\ngot:\n%s\nwant:\n%s", w.Details, want)
	}
}

func TestFormatWarningObjectsAndFeatures(t *testing.T) {
	r := NewBadObjectsReport()
	r.AddObject(0, 0, 2)
	r.AddFeature(ColumnName{Plugin: "pluginA", Feature: "mean"})

	w, err := FormatWarning(r)
	if err != nil {
		t.Fatal(err)
	}
	// The two blocks are separated by a blank line.
	if !strings.Contains(w.Details, "\n\n") {
		t.Errorf("expected blank line between blocks:\n%s", w.Details)
	}
	if !strings.HasPrefix(w.Details, "The following objects had bad features:") {
		t.Errorf("objects block should come first:\n%s", w.Details)
	}
}

func TestFormatWarningInvalidReport(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BadObjectsReport)
	}{
		{"negative lane", func(r *BadObjectsReport) { r.Objects[-1] = map[int][]int{0: {1}} }},
		{"negative time", func(r *BadObjectsReport) { r.Objects[0] = map[int][]int{-2: {1}} }},
		{"negative object", func(r *BadObjectsReport) { r.AddObject(0, 0, -3) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewBadObjectsReport()
			tc.mutate(r)
			if _, err := FormatWarning(r); err == nil {
				t.Error("expected error for malformed report")
			}
		})
	}
}
