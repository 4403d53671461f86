package classify

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/objectclass/internal/graph"
	"github.com/banshee-data/objectclass/internal/monitoring"
)

// LaneData is one lane's contribution to a training run: a snapshot of its
// label arrays and its feature collaborator.
type LaneData struct {
	Labels   map[int]LabelVector
	Features FeatureProvider
}

// TrainResult is the outcome of one training invocation. A nil Ensemble means
// there was nothing to train on (no labels anywhere, or no features
// selected); that is a valid state, not an error.
type TrainResult struct {
	Ensemble Ensemble
	OutOfBag float64

	// Report aggregates the bad objects/features encountered while
	// assembling the matrix; nil when everything was clean.
	Report *BadObjectsReport
}

// Trainer aggregates labeled feature rows across all lanes and time steps and
// trains the configured number of ensemble members in parallel.
type Trainer struct {
	learner     Learner
	forestCount int
	pool        *graph.Pool
}

// NewTrainer creates a trainer. A non-positive forestCount falls back to 1.
func NewTrainer(learner Learner, forestCount int, pool *graph.Pool) *Trainer {
	if forestCount <= 0 {
		forestCount = 1
	}
	return &Trainer{learner: learner, forestCount: forestCount, pool: pool}
}

// Train builds the combined feature/label matrix over every lane and time
// step that has at least one nonzero label and trains the ensemble members
// against it. The ensemble is committed all-or-nothing: a failing member
// fails the whole invocation and no partial ensemble is ever returned.
func (tr *Trainer) Train(lanes []LaneData, selection FeatureSelection) (*TrainResult, error) {
	if selection.Empty() {
		// No features means no predictions; advisory only.
		monitoring.Logf("objectclass: no features selected, classifier left untrained")
		return &TrainResult{}, nil
	}

	report := NewBadObjectsReport()
	var data [][]float64
	var labels []uint32
	var cols []ColumnName

	for lane, ld := range lanes {
		labeled := map[int]LabelVector{}
		var times []int
		for t, v := range ld.Labels {
			if v.Max() != 0 {
				labeled[t] = v
				times = append(times, t)
			}
		}
		if len(times) == 0 {
			continue
		}

		feats, err := ld.Features.Features(times)
		if err != nil {
			return nil, fmt.Errorf("pull features for lane %d: %w", lane, err)
		}
		fm, err := BuildFeatureMatrix(feats, selection, labeled)
		if err != nil {
			return nil, fmt.Errorf("build training matrix for lane %d: %w", lane, err)
		}
		if len(fm.Data) == 0 {
			continue
		}

		badRows, badCols := SanitizeNonFinite(fm.Data)
		for _, r := range badRows {
			rid := fm.Rows[r]
			report.AddObject(lane, rid.Time, rid.Object)
		}
		for _, c := range badCols {
			report.AddFeature(fm.Columns[c])
		}

		if cols == nil {
			cols = fm.Columns
		} else if !columnsEqual(cols, fm.Columns) {
			return nil, fmt.Errorf("%w (across lanes)", ErrColumnMismatch)
		}

		data = append(data, fm.Data...)
		labels = append(labels, fm.Labels...)
	}

	if len(labels) == 0 {
		return &TrainResult{}, nil
	}

	monitoring.Logf("objectclass: training on matrix of shape (%d, %d)", len(data), len(cols))

	members := make(Ensemble, tr.forestCount)
	oob := make([]float64, tr.forestCount)
	group := tr.pool.NewGroup()
	for n := 0; n < tr.forestCount; n++ {
		n := n
		group.Go(func() error {
			c, e, err := tr.learner.Train(data, labels)
			if err != nil {
				return err
			}
			members[n] = c
			oob[n] = e
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		monitoring.Logf("objectclass: couldn't learn classifier: %v", err)
		return nil, fmt.Errorf("train ensemble: %w", err)
	}

	mean := stat.Mean(oob, nil)
	monitoring.Logf("objectclass: training finished, out of bag error: %v", mean)

	result := &TrainResult{Ensemble: members, OutOfBag: mean}
	if !report.Empty() {
		result.Report = report
	}
	return result, nil
}
