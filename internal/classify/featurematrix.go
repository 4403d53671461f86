package classify

import (
	"fmt"
	"math"
	"sort"
)

// FeatureMatrix is the dense output of BuildFeatureMatrix: rows are selected
// objects across the requested time steps, columns are the selected feature
// channels in sorted (plugin, feature) order.
type FeatureMatrix struct {
	Data    [][]float64
	Rows    []RowID
	Columns []ColumnName

	// Labels is the row-parallel label vector, present only when label
	// arrays were supplied to the build.
	Labels []uint32
}

// BuildFeatureMatrix turns per-time feature sets into one dense matrix.
//
// When labels is non-nil, only objects with a nonzero label contribute rows
// and the matching label vector is returned; otherwise every object row is
// included (background row 0 too, so downstream can zero it in place).
//
// The column set must be identical for every time step; a mismatch returns
// ErrColumnMismatch. The reserved DefaultFeaturesKey plugin is never
// included. Construction is pure: no caching, no sanitization.
func BuildFeatureMatrix(feats map[int]FeatureSet, selection FeatureSelection, labels map[int]LabelVector) (*FeatureMatrix, error) {
	times := make([]int, 0, len(feats))
	for t := range feats {
		times = append(times, t)
	}
	sort.Ints(times)

	out := &FeatureMatrix{}
	if labels != nil {
		out.Labels = []uint32{}
	}

	for _, t := range times {
		fs := feats[t]

		plugins := make([]string, 0, len(fs))
		for plugin := range fs {
			plugins = append(plugins, plugin)
		}
		sort.Strings(plugins)

		var cols []ColumnName
		var arrays [][][]float64
		nObjects := -1
		for _, plugin := range plugins {
			if plugin == DefaultFeaturesKey || selection[plugin] == nil {
				continue
			}
			names := make([]string, 0, len(fs[plugin]))
			for name := range fs[plugin] {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if !selection[plugin][name] {
					continue
				}
				value := fs[plugin][name]
				if nObjects == -1 {
					nObjects = len(value)
				} else if len(value) != nObjects {
					return nil, fmt.Errorf("feature %s/%s at time %d has %d objects, want %d",
						plugin, name, t, len(value), nObjects)
				}
				channels := 0
				if len(value) > 0 {
					channels = len(value[0])
				}
				for c := 0; c < channels; c++ {
					cols = append(cols, ColumnName{Plugin: plugin, Feature: name})
				}
				arrays = append(arrays, value)
			}
		}

		if out.Columns == nil {
			out.Columns = cols
		} else if !columnsEqual(out.Columns, cols) {
			return nil, fmt.Errorf("%w (time %d)", ErrColumnMismatch, t)
		}
		if nObjects <= 0 {
			continue
		}

		// Choose which object rows to emit: nonzero-labeled only when a
		// label array was supplied, all objects otherwise.
		var objects []int
		if labels != nil {
			lab := labels[t]
			for obj := 0; obj < nObjects && obj < len(lab); obj++ {
				if lab[obj] != 0 {
					objects = append(objects, obj)
				}
			}
		} else {
			objects = make([]int, nObjects)
			for obj := range objects {
				objects[obj] = obj
			}
		}

		for _, obj := range objects {
			row := make([]float64, 0, len(out.Columns))
			for _, value := range arrays {
				row = append(row, value[obj]...)
			}
			out.Data = append(out.Data, row)
			out.Rows = append(out.Rows, RowID{Time: t, Object: obj})
			if labels != nil {
				out.Labels = append(out.Labels, labels[t][obj])
			}
		}
	}

	return out, nil
}

func columnsEqual(a, b []ColumnName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SanitizeNonFinite replaces every NaN or infinite value in the matrix with 0
// and returns the sorted sets of affected row and column indices. A clean
// matrix returns empty sets.
func SanitizeNonFinite(m [][]float64) (rows, cols []int) {
	rowSet := map[int]bool{}
	colSet := map[int]bool{}
	for i, row := range m {
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				m[i][j] = 0
				rowSet[i] = true
				colSet[j] = true
			}
		}
	}
	return sortedKeys(rowSet), sortedKeys(colSet)
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
