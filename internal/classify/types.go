// Package classify implements object-level classification over segmentation
// images: building feature matrices from per-object feature sets, transferring
// sparse labels across re-segmentations, training and applying a classifier
// ensemble, and projecting per-object results back onto images.
//
// Objects are connected components identified by 1-based integer index within
// a (lane, time) pair; index 0 is background and is never labeled, trained on,
// or given a nonzero prediction.
package classify

import (
	"errors"
	"fmt"
)

// DefaultFeaturesKey is the reserved plugin name holding bounding-box
// coordinate features. It is used internally for label transfer and dirty
// scoping and is never included in a training matrix.
const DefaultFeaturesKey = "Default features"

// Reserved feature names under DefaultFeaturesKey.
const (
	CoordMinKey = "Coord<Minimum>"
	CoordMaxKey = "Coord<Maximum>"
)

var (
	// ErrColumnMismatch indicates different time steps did not produce the
	// same feature columns. This is a configuration error and is fatal for
	// the requested operation.
	ErrColumnMismatch = errors.New("different time slices did not have same features")

	// ErrBadSegmentation indicates a segmentation image that is malformed
	// (wrong dimensionality or inconsistent pixel count).
	ErrBadSegmentation = errors.New("segmentation image is malformed")
)

// FeatureSet maps plugin name to feature name to a per-object value matrix
// (rows = objects including background row 0, columns = feature channels).
type FeatureSet map[string]map[string][][]float64

// FeatureSelection names the (plugin, feature) pairs to include in a numeric
// feature matrix. The reserved DefaultFeaturesKey plugin is excluded even if
// selected.
type FeatureSelection map[string]map[string]bool

// Empty reports whether no feature at all is selected.
func (s FeatureSelection) Empty() bool {
	for plugin, feats := range s {
		if plugin == DefaultFeaturesKey {
			continue
		}
		for _, on := range feats {
			if on {
				return false
			}
		}
	}
	return true
}

// ColumnName identifies one feature matrix column by its origin.
type ColumnName struct {
	Plugin  string
	Feature string
}

func (c ColumnName) String() string {
	return c.Plugin + "/" + c.Feature
}

// RowID identifies one feature matrix row as a (time, object) pair.
type RowID struct {
	Time   int
	Object int
}

// FeatureProvider is the feature-extraction collaborator. Features blocks
// until the requested time steps are computed; an empty slice requests all
// available time steps.
type FeatureProvider interface {
	Features(times []int) (map[int]FeatureSet, error)
}

// ObjectImage is one segmentation time slice: each pixel carries the integer
// index of the object it belongs to (0 = background). Data is row-major over
// Dims, which has two or three axes.
type ObjectImage struct {
	Dims []int
	Data []uint32
}

// Validate checks dimensionality and pixel count consistency.
func (im *ObjectImage) Validate() error {
	if len(im.Dims) < 2 || len(im.Dims) > 3 {
		return fmt.Errorf("%w: %d axes", ErrBadSegmentation, len(im.Dims))
	}
	n := 1
	for _, d := range im.Dims {
		if d <= 0 {
			return fmt.Errorf("%w: axis extent %d", ErrBadSegmentation, d)
		}
		n *= d
	}
	if n != len(im.Data) {
		return fmt.Errorf("%w: %d pixels for dims %v", ErrBadSegmentation, len(im.Data), im.Dims)
	}
	return nil
}

// MaxObject returns the highest object index present in the slice.
func (im *ObjectImage) MaxObject() uint32 {
	var max uint32
	for _, v := range im.Data {
		if v > max {
			max = v
		}
	}
	return max
}

// SegmentationProvider is the connected-components collaborator: one object
// image per time step.
type SegmentationProvider interface {
	// Slice returns the segmentation image for the given time step.
	Slice(t int) (*ObjectImage, error)
	// TimeSteps returns the number of time steps in the lane.
	TimeSteps() int
}

// BoundingBoxes holds per-object axis-aligned extents. Min is inclusive and
// Max exclusive, matching the reserved coordinate features. Row i describes
// object i; row 0 (background) is present but unused.
type BoundingBoxes struct {
	Min [][]float64
	Max [][]float64
}

// Objects returns the number of objects described (including background).
func (b BoundingBoxes) Objects() int {
	return len(b.Min)
}

// BoundingBoxesFromFeatures extracts the reserved coordinate features from a
// feature set.
func BoundingBoxesFromFeatures(fs FeatureSet) (BoundingBoxes, error) {
	def, ok := fs[DefaultFeaturesKey]
	if !ok {
		return BoundingBoxes{}, fmt.Errorf("feature set has no %q plugin", DefaultFeaturesKey)
	}
	mins, ok := def[CoordMinKey]
	if !ok {
		return BoundingBoxes{}, fmt.Errorf("feature set has no %q feature", CoordMinKey)
	}
	maxs, ok := def[CoordMaxKey]
	if !ok {
		return BoundingBoxes{}, fmt.Errorf("feature set has no %q feature", CoordMaxKey)
	}
	if len(mins) != len(maxs) {
		return BoundingBoxes{}, fmt.Errorf("coordinate features disagree on object count: %d vs %d", len(mins), len(maxs))
	}
	return BoundingBoxes{Min: mins, Max: maxs}, nil
}

// Classifier is one trained ensemble member, the inference half of the
// classifier-implementation collaborator. The returned matrix has one row per
// feature row and one probability column per class.
type Classifier interface {
	PredictProbabilities(features [][]float64) ([][]float64, error)
}

// Learner is the training half of the classifier collaborator. Train returns
// the trained classifier and its out-of-bag error estimate (diagnostics only).
type Learner interface {
	Train(features [][]float64, labels []uint32) (Classifier, float64, error)
}

// Ensemble is an ordered collection of independently trained classifiers whose
// probability outputs are averaged. It is used atomically: either fully
// populated or nil ("no prediction possible"), never partially valid.
type Ensemble []Classifier
