package classify

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/objectclass/internal/graph"
	"github.com/banshee-data/objectclass/internal/monitoring"
)

// Lane is one independently tracked dataset: its segmentation and feature
// collaborators, its label arrays, and its prediction cache. Bounding-box
// caches and label arrays are owned by the lane and manipulated by a single
// logical caller at a time, so they carry no locks.
type Lane struct {
	ID string

	segmentation SegmentationProvider
	features     FeatureProvider
	labels       *LabelStore
	predictor    *Predictor

	// bboxCache holds, per time step, the object bounding boxes as of the
	// most recent label assignment or transfer. It populates lazily on the
	// first label of the lane and is fully replaced on each transfer.
	bboxCache map[int]BoundingBoxes

	// pending is the snapshot of label arrays retained when the
	// segmentation changed; it is consumed exactly once by the next
	// transfer.
	pending      map[int]LabelVector
	needTransfer bool

	labelDirty graph.Notifier
	predDirty  graph.Notifier
}

// TransferOutcome reports what one time step lost in a label transfer.
type TransferOutcome struct {
	Lost      LostLabels
	Conflicts ConflictLabels
}

// TransferSummary aggregates transfer outcomes per time step.
type TransferSummary struct {
	ByTime map[int]TransferOutcome
}

// Pipeline is the top-level object classification engine over an ordered
// collection of lanes: it trains one shared ensemble from all lanes' labels
// and serves per-lane predictions, probabilities, and image projections.
type Pipeline struct {
	learner     Learner
	forestCount int
	pool        *graph.Pool

	mu        sync.Mutex
	lanes     []*Lane
	selection FeatureSelection
	ensemble  Ensemble
	warning   Warning

	maxLabel MaxLabelTracker
}

// NewPipeline creates an engine. forestCount is the ensemble size; pool runs
// training and inference tasks.
func NewPipeline(learner Learner, forestCount int, pool *graph.Pool) *Pipeline {
	if forestCount <= 0 {
		forestCount = 1
	}
	return &Pipeline{learner: learner, forestCount: forestCount, pool: pool}
}

// SetSelection replaces the selected (plugin, feature) pairs. Cached
// predictions become stale and are discarded.
func (p *Pipeline) SetSelection(sel FeatureSelection) {
	p.mu.Lock()
	p.selection = sel
	lanes := append([]*Lane(nil), p.lanes...)
	p.mu.Unlock()
	for _, l := range lanes {
		l.predictor.MarkDirty()
		l.predDirty.Notify(graph.Everything())
	}
}

func (p *Pipeline) currentSelection() FeatureSelection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection
}

func (p *Pipeline) currentEnsemble() Ensemble {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensemble
}

// AddLane registers a new lane and returns its index. The segmentation is
// checked for well-formedness up front; feeding a malformed image producer is
// a configuration error, not something to recover from later.
func (p *Pipeline) AddLane(segmentation SegmentationProvider, features FeatureProvider) (int, error) {
	if segmentation.TimeSteps() > 0 {
		img, err := segmentation.Slice(0)
		if err != nil {
			return 0, fmt.Errorf("probe segmentation: %w", err)
		}
		if err := img.Validate(); err != nil {
			return 0, err
		}
	}

	l := &Lane{
		ID:           uuid.New().String(),
		segmentation: segmentation,
		features:     features,
		labels:       NewLabelStore(),
		bboxCache:    map[int]BoundingBoxes{},
	}
	l.predictor = NewPredictor(features, p.currentSelection, p.currentEnsemble, p.pool)

	p.mu.Lock()
	p.lanes = append(p.lanes, l)
	index := len(p.lanes) - 1
	p.mu.Unlock()
	return index, nil
}

// RemoveLane drops a lane and all its state.
func (p *Pipeline) RemoveLane(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.lanes) {
		return fmt.Errorf("no lane %d", index)
	}
	p.lanes = append(p.lanes[:index], p.lanes[index+1:]...)
	p.updateMaxLabelLocked()
	return nil
}

// LaneCount returns the number of registered lanes.
func (p *Pipeline) LaneCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

// LaneID returns the stable identifier of a lane, used for persistence.
func (p *Pipeline) LaneID(index int) (string, error) {
	l, err := p.lane(index)
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

func (p *Pipeline) lane(index int) (*Lane, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.lanes) {
		return nil, fmt.Errorf("no lane %d", index)
	}
	return p.lanes[index], nil
}

func (p *Pipeline) updateMaxLabelLocked() {
	stores := make([]*LabelStore, len(p.lanes))
	for i, l := range p.lanes {
		stores[i] = l.labels
	}
	p.maxLabel.Update(stores...)
}

func (p *Pipeline) updateMaxLabel() {
	p.mu.Lock()
	p.updateMaxLabelLocked()
	p.mu.Unlock()
}

// MaxLabel returns the highest label value across all lanes, recomputed on
// every label change. Downstream outputs size from it: the number of
// probability channels is MaxLabel()+1.
func (p *Pipeline) MaxLabel() uint32 {
	return p.maxLabel.Max()
}

// Warning returns the advisory warning from the most recent training run, or
// an empty warning when the run was clean.
func (p *Pipeline) Warning() Warning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warning
}

// AssignLabel sets the label of the object located at the given coordinate in
// the lane's segmentation at time t. It does nothing when the coordinate lies
// on background. The label array grows on demand, and the lane's bounding-box
// cache populates on the first label.
func (p *Pipeline) AssignLabel(lane, t int, coord []int, label uint32) error {
	l, err := p.lane(lane)
	if err != nil {
		return err
	}
	img, err := l.segmentation.Slice(t)
	if err != nil {
		return fmt.Errorf("pull segmentation for time %d: %w", t, err)
	}
	if err := img.Validate(); err != nil {
		return err
	}
	if len(coord) != len(img.Dims) {
		return fmt.Errorf("coordinate %v has wrong length for image of dims %v", coord, img.Dims)
	}
	idx := 0
	for a, c := range coord {
		if c < 0 || c >= img.Dims[a] {
			return fmt.Errorf("coordinate %v outside image of dims %v", coord, img.Dims)
		}
		idx = idx*img.Dims[a] + c
	}
	object := img.Data[idx]
	if object == 0 {
		return nil // background is never labeled
	}

	l.labels.Assign(t, int(object), label)
	p.updateMaxLabel()

	if len(l.bboxCache) == 0 {
		// First label for this lane: remember the bounding boxes so a
		// later re-segmentation can transfer labels geometrically.
		feats, err := l.features.Features([]int{t})
		if err != nil {
			return fmt.Errorf("pull features for time %d: %w", t, err)
		}
		boxes, err := BoundingBoxesFromFeatures(feats[t])
		if err != nil {
			return err
		}
		l.bboxCache[t] = boxes
	}

	l.labelDirty.Notify(graph.Objects(graph.TimeObject{Time: t, Object: int(object)}))
	return nil
}

// SegmentationChanged records that the lane's segmentation was recomputed
// while labels exist. The current labels are snapshotted and held for the
// next TransferLabels call.
func (p *Pipeline) SegmentationChanged(lane int) error {
	l, err := p.lane(lane)
	if err != nil {
		return err
	}
	l.pending = l.labels.Snapshot()
	l.needTransfer = true
	return nil
}

// TriggerTransfer maps the snapshotted labels onto the recomputed
// segmentation's objects via bounding-box overlap. The snapshot is consumed
// exactly once; afterwards the bounding-box cache holds the fresh boxes.
// Returns nil when no transfer was pending or there was nothing to carry.
func (p *Pipeline) TriggerTransfer(lane int) (*TransferSummary, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	if !l.needTransfer {
		return nil, nil
	}
	if len(l.bboxCache) == 0 {
		// No labels were ever assigned; nothing to transfer.
		l.needTransfer = false
		l.pending = nil
		return nil, nil
	}

	summary := &TransferSummary{ByTime: map[int]TransferOutcome{}}
	for t := 0; t < l.segmentation.TimeSteps(); t++ {
		old, ok := l.pending[t]
		oldBoxes, haveBoxes := l.bboxCache[t]
		if !ok || !haveBoxes || old.Max() == 0 {
			continue
		}
		monitoring.Logf("objectclass: transferring labels to the new segmentation (lane %s, time %d)", l.ID, t)

		feats, err := l.features.Features([]int{t})
		if err != nil {
			return nil, fmt.Errorf("pull features for time %d: %w", t, err)
		}
		newBoxes, err := BoundingBoxesFromFeatures(feats[t])
		if err != nil {
			return nil, err
		}

		newLabels, lost, conflicts := TransferLabels(old, oldBoxes, newBoxes)
		l.labels.Set(t, newLabels)
		l.bboxCache[t] = newBoxes
		if len(lost.Full)+len(lost.Partial)+len(conflicts.Conflict) > 0 {
			summary.ByTime[t] = TransferOutcome{Lost: lost, Conflicts: conflicts}
		}
	}

	l.pending = nil
	l.needTransfer = false
	p.updateMaxLabel()
	l.labelDirty.Notify(graph.Everything())
	return summary, nil
}

// Train aggregates labels from all lanes and trains the ensemble. The commit
// is atomic: on failure the previous ensemble stays in place and the error is
// propagated. With no labels anywhere the ensemble becomes explicitly
// untrained (nil), which downstream treats as "nothing to predict."
func (p *Pipeline) Train() error {
	p.mu.Lock()
	data := make([]LaneData, len(p.lanes))
	for i, l := range p.lanes {
		data[i] = LaneData{Labels: l.labels.Snapshot(), Features: l.features}
	}
	selection := p.selection
	lanes := append([]*Lane(nil), p.lanes...)
	p.mu.Unlock()

	res, err := NewTrainer(p.learner, p.forestCount, p.pool).Train(data, selection)
	if err != nil {
		return err
	}
	warning, err := FormatWarning(res.Report)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.ensemble = res.Ensemble
	p.warning = warning
	p.mu.Unlock()

	for _, l := range lanes {
		l.predictor.MarkDirty()
		l.predDirty.Notify(graph.Everything())
	}
	return nil
}

// Ensemble returns the current trained ensemble (nil when untrained).
func (p *Pipeline) Ensemble() Ensemble {
	return p.currentEnsemble()
}

// SetEnsemble installs an ensemble restored from persistence and discards
// cached predictions.
func (p *Pipeline) SetEnsemble(e Ensemble) {
	p.mu.Lock()
	p.ensemble = e
	lanes := append([]*Lane(nil), p.lanes...)
	p.mu.Unlock()
	for _, l := range lanes {
		l.predictor.MarkDirty()
		l.predDirty.Notify(graph.Everything())
	}
}

// RemoveLabelClass deletes a class everywhere: its uses become unlabeled and
// higher classes shift down to stay dense. The classifier is stale until the
// next Train.
func (p *Pipeline) RemoveLabelClass(class uint32) {
	p.mu.Lock()
	lanes := append([]*Lane(nil), p.lanes...)
	p.mu.Unlock()
	for _, l := range lanes {
		l.labels.RemoveClass(class)
		l.labelDirty.Notify(graph.Everything())
	}
	p.updateMaxLabel()
}

// LabelsSnapshot returns an independent copy of a lane's label arrays.
func (p *Pipeline) LabelsSnapshot(lane int) (map[int]LabelVector, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.labels.Snapshot(), nil
}

// RestoreLabels replaces a lane's label arrays, for loading a stored project.
func (p *Pipeline) RestoreLabels(lane int, labels map[int]LabelVector) error {
	l, err := p.lane(lane)
	if err != nil {
		return err
	}
	l.labels.Replace(labels)
	p.updateMaxLabel()
	l.labelDirty.Notify(graph.Everything())
	return nil
}

// SeedProbabilities fills a lane's prediction cache from externally supplied
// probability matrices.
func (p *Pipeline) SeedProbabilities(lane int, probs map[int][][]float64) error {
	l, err := p.lane(lane)
	if err != nil {
		return err
	}
	l.predictor.SeedProbabilities(probs)
	l.predDirty.Notify(graph.Everything())
	return nil
}

// resolveTimes maps an empty selection to every time step of the lane.
func (l *Lane) resolveTimes(times []int) []int {
	if len(times) > 0 {
		return times
	}
	n := l.segmentation.TimeSteps()
	out := make([]int, n)
	for t := range out {
		out[t] = t
	}
	return out
}

// Predictions returns per-object hard labels for the requested times (all
// times when empty).
func (p *Pipeline) Predictions(lane int, times []int) (map[int][]uint32, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.predictor.Predictions(l.resolveTimes(times))
}

// Probabilities returns averaged per-object class probability matrices.
func (p *Pipeline) Probabilities(lane int, times []int) (map[int][][]float64, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.predictor.Probabilities(l.resolveTimes(times))
}

// ProbabilityChannel returns one class's probability column per time.
func (p *Pipeline) ProbabilityChannel(lane, channel int, times []int) (map[int][]float64, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.predictor.ProbabilityChannel(channel, l.resolveTimes(times))
}

// CachedProbabilities returns what is already cached without computing.
func (p *Pipeline) CachedProbabilities(lane int, times []int) (map[int][][]float64, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.predictor.CachedProbabilities(l.resolveTimes(times)), nil
}

// BadObjects returns per-time flag vectors of objects whose prediction rows
// required sanitization.
func (p *Pipeline) BadObjects(lane int, times []int) (map[int][]uint8, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	return l.predictor.BadObjects(l.resolveTimes(times))
}

// LabelImage returns a projector painting the lane's labels onto its
// segmentation. Label edits invalidate only the touched object's region.
func (p *Pipeline) LabelImage(lane int) (*Projector, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	pr := NewProjector(l.segmentation, MapProviderFunc(func(t int) ([]float64, error) {
		v := l.labels.Get(t)
		out := make([]float64, len(v))
		for i, label := range v {
			out[i] = float64(label)
		}
		return out, nil
	}), l.features)
	l.labelDirty.OnDirty(pr.MarkDirty)
	return pr, nil
}

// PredictionImage returns a projector painting hard predictions onto the
// lane's segmentation.
func (p *Pipeline) PredictionImage(lane int) (*Projector, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	pr := NewProjector(l.segmentation, MapProviderFunc(func(t int) ([]float64, error) {
		preds, err := l.predictor.Predictions([]int{t})
		if err != nil {
			return nil, err
		}
		v := preds[t]
		out := make([]float64, len(v))
		for i, label := range v {
			out[i] = float64(label)
		}
		return out, nil
	}), l.features)
	l.predDirty.OnDirty(pr.MarkDirty)
	return pr, nil
}

// BadObjectImage returns a projector highlighting objects with bad feature
// values.
func (p *Pipeline) BadObjectImage(lane int) (*Projector, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	pr := NewProjector(l.segmentation, MapProviderFunc(func(t int) ([]float64, error) {
		flags, err := l.predictor.BadObjects([]int{t})
		if err != nil {
			return nil, err
		}
		v := flags[t]
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	}), l.features)
	l.predDirty.OnDirty(pr.MarkDirty)
	return pr, nil
}

// ProbabilityChannelImages returns a multi-channel projector with one channel
// per class id 0..MaxLabel. Channel 0 is background and always zero; channel
// k paints class k's probability.
func (p *Pipeline) ProbabilityChannelImages(lane int) (*MultiProjector, error) {
	l, err := p.lane(lane)
	if err != nil {
		return nil, err
	}
	channels := int(p.MaxLabel()) + 1
	maps := make([]MapProvider, channels)
	for k := 0; k < channels; k++ {
		k := k
		maps[k] = MapProviderFunc(func(t int) ([]float64, error) {
			if k == 0 {
				probs, err := l.predictor.Probabilities([]int{t})
				if err != nil {
					return nil, err
				}
				return make([]float64, len(probs[t])), nil
			}
			cols, err := l.predictor.ProbabilityChannel(k-1, []int{t})
			if err != nil {
				return nil, err
			}
			return cols[t], nil
		})
	}
	mp := NewMultiProjector(l.segmentation, maps, l.features)
	l.predDirty.OnDirty(mp.MarkDirty)
	return mp, nil
}
