package classify

import (
	"fmt"
	"sort"
	"strings"
)

// BadObjectsReport aggregates the objects and feature columns that required
// non-finite-value sanitization during training. Objects maps lane index to
// time step to object ids.
type BadObjectsReport struct {
	Objects  map[int]map[int][]int
	Features []ColumnName
}

// NewBadObjectsReport returns an empty report.
func NewBadObjectsReport() *BadObjectsReport {
	return &BadObjectsReport{Objects: map[int]map[int][]int{}}
}

// AddObject records one bad object.
func (r *BadObjectsReport) AddObject(lane, t, object int) {
	if r.Objects[lane] == nil {
		r.Objects[lane] = map[int][]int{}
	}
	r.Objects[lane][t] = append(r.Objects[lane][t], object)
}

// AddFeature records one universally sanitized feature column, deduplicating.
func (r *BadObjectsReport) AddFeature(c ColumnName) {
	for _, have := range r.Features {
		if have == c {
			return
		}
	}
	r.Features = append(r.Features, c)
}

// Empty reports whether nothing bad was recorded.
func (r *BadObjectsReport) Empty() bool {
	if r == nil {
		return true
	}
	for _, byTime := range r.Objects {
		for _, objs := range byTime {
			if len(objs) > 0 {
				return false
			}
		}
	}
	return len(r.Features) == 0
}

func (r *BadObjectsReport) validate() error {
	for lane, byTime := range r.Objects {
		if lane < 0 {
			return fmt.Errorf("bad objects record has wrong format: lane %d", lane)
		}
		for t, objs := range byTime {
			if t < 0 {
				return fmt.Errorf("bad objects record has wrong format: time %d", t)
			}
			for _, obj := range objs {
				if obj < 0 {
					return fmt.Errorf("bad objects record has wrong format: object %d", obj)
				}
			}
		}
	}
	return nil
}

// Warning is the user-facing structured message built from a bad-objects
// report. A zero Warning means nothing is wrong.
type Warning struct {
	Title   string `json:"title"`
	Text    string `json:"text"`
	Details string `json:"details"`
}

// Empty reports whether the warning carries no content.
func (w Warning) Empty() bool {
	return w.Details == ""
}

const warningIndent = "    "

// FormatWarning turns a bad-objects report into an advisory warning message.
// An empty or nil report yields an empty warning. A structurally invalid
// report is a configuration error.
func FormatWarning(r *BadObjectsReport) (Warning, error) {
	if r.Empty() {
		return Warning{}, nil
	}
	if err := r.validate(); err != nil {
		return Warning{}, err
	}

	var blocks []string
	if s := formatBadObjects(r.Objects); s != "" {
		blocks = append(blocks, s)
	}
	if s := formatBadFeatures(r.Features); s != "" {
		blocks = append(blocks, s)
	}

	return Warning{
		Title:   "Warning",
		Text:    "Encountered bad objects/features while training.",
		Details: strings.Join(blocks, "\n\n"),
	}, nil
}

func formatBadObjects(objects map[int]map[int][]int) string {
	lanes := make([]int, 0, len(objects))
	for lane := range objects {
		lanes = append(lanes, lane)
	}
	sort.Ints(lanes)

	var lines []string
	for _, lane := range lanes {
		byTime := objects[lane]
		times := make([]int, 0, len(byTime))
		for t := range byTime {
			if len(byTime[t]) > 0 {
				times = append(times, t)
			}
		}
		if len(times) == 0 {
			continue
		}
		sort.Ints(times)
		lines = append(lines, warningIndent+fmt.Sprintf("at image index %d", lane))

		// Only spell out the time slice when more than one carries bad
		// objects, to avoid obscuring the common single-slice case.
		needTime := len(times) > 1
		for _, t := range times {
			ids := append([]int(nil), byTime[t]...)
			sort.Ints(ids)
			parts := make([]string, len(ids))
			for i, id := range ids {
				parts[i] = fmt.Sprintf("%d", id)
			}
			if needTime {
				lines = append(lines, strings.Repeat(warningIndent, 2)+fmt.Sprintf("at time %d", t))
				lines = append(lines, strings.Repeat(warningIndent, 3)+"Objects "+strings.Join(parts, ", "))
			} else {
				lines = append(lines, strings.Repeat(warningIndent, 2)+"Objects "+strings.Join(parts, ", "))
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(append([]string{"The following objects had bad features:"}, lines...), "\n")
}

func formatBadFeatures(features []ColumnName) string {
	if len(features) == 0 {
		return ""
	}
	names := make([]string, len(features))
	for i, c := range features {
		names[i] = c.String()
	}
	sort.Strings(names)
	return "The following features had bad values:\n" + strings.Join(names, "\n")
}
