package classify

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/objectclass/internal/graph"
)

// Predictor computes and caches per-time-step class probabilities for one
// lane using the trained ensemble.
//
// The cache is shared mutable state across all concurrent callers, guarded by
// one coarse lock held for the whole build+infer+insert sequence of a cache
// miss. Inference within one batch of times still parallelizes across
// ensemble members on the pool. Whole time slices are predicted and cached at
// once; there are few objects compared to pixels, so this stays cheap.
type Predictor struct {
	features  FeatureProvider
	selection func() FeatureSelection
	ensemble  func() Ensemble
	pool      *graph.Pool

	mu         sync.Mutex
	probCache  map[int][][]float64
	badObjects map[int][]uint8
}

// NewPredictor wires a predictor to its collaborators. selection and ensemble
// are pulled on every request so upstream changes take effect without
// rewiring.
func NewPredictor(features FeatureProvider, selection func() FeatureSelection, ensemble func() Ensemble, pool *graph.Pool) *Predictor {
	return &Predictor{
		features:   features,
		selection:  selection,
		ensemble:   ensemble,
		pool:       pool,
		probCache:  map[int][][]float64{},
		badObjects: map[int][]uint8{},
	}
}

// MarkDirty discards the entire cache; subsequent queries repopulate lazily.
// Called when the ensemble was retrained or upstream inputs changed.
func (p *Predictor) MarkDirty() {
	p.mu.Lock()
	p.probCache = map[int][][]float64{}
	p.badObjects = map[int][]uint8{}
	p.mu.Unlock()
}

// SeedProbabilities replaces the cache with externally supplied probability
// matrices (for instance read back from a stored project).
func (p *Predictor) SeedProbabilities(probs map[int][][]float64) {
	p.mu.Lock()
	p.probCache = make(map[int][][]float64, len(probs))
	for t, m := range probs {
		p.probCache[t] = m
	}
	p.badObjects = map[int][]uint8{}
	p.mu.Unlock()
}

// ensureLocked populates cache entries for every requested time not yet
// present. Caller holds p.mu.
func (p *Predictor) ensureLocked(times []int, members Ensemble) error {
	var missing []int
	for _, t := range times {
		if _, ok := p.probCache[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	selection := p.selection()
	feats := make(map[int][][]float64, len(missing))
	for _, t := range missing {
		pulled, err := p.features.Features([]int{t})
		if err != nil {
			return fmt.Errorf("pull features for time %d: %w", t, err)
		}
		fm, err := BuildFeatureMatrix(pulled, selection, nil)
		if err != nil {
			return fmt.Errorf("build prediction matrix for time %d: %w", t, err)
		}
		badRows, _ := SanitizeNonFinite(fm.Data)
		flags := make([]uint8, len(fm.Data))
		for _, r := range badRows {
			flags[r] = 1
		}
		p.badObjects[t] = flags
		feats[t] = fm.Data
	}

	// Every member's inference for every missing time runs concurrently;
	// all tasks complete before any result is used.
	results := make(map[int][][][]float64, len(missing))
	for _, t := range missing {
		results[t] = make([][][]float64, len(members))
	}
	group := p.pool.NewGroup()
	for _, t := range missing {
		for i, member := range members {
			t, i, member := t, i, member
			group.Go(func() error {
				probs, err := member.PredictProbabilities(feats[t])
				if err != nil {
					return err
				}
				results[t][i] = probs
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("predict probabilities: %w", err)
	}

	for _, t := range missing {
		p.probCache[t] = averageProbabilities(results[t], len(feats[t]))
	}
	return nil
}

// averageProbabilities averages member outputs element-wise and forces the
// background row to all-zero. Members predicting fewer classes contribute
// zeros for the missing columns.
func averageProbabilities(member [][][]float64, rows int) [][]float64 {
	cols := 0
	for _, m := range member {
		for _, row := range m {
			if len(row) > cols {
				cols = len(row)
			}
		}
	}
	avg := make([][]float64, rows)
	for i := range avg {
		avg[i] = make([]float64, cols)
		for _, m := range member {
			if i >= len(m) {
				continue
			}
			for j, v := range m[i] {
				avg[i][j] += v
			}
		}
		if len(member) > 0 {
			floats.Scale(1/float64(len(member)), avg[i])
		}
	}
	if rows > 0 {
		for j := range avg[0] {
			avg[0][j] = 0 // background probability is always zero
		}
	}
	return avg
}

// Probabilities returns the averaged per-object class probability matrix for
// each requested time. An untrained ensemble yields empty results for every
// requested time, not an error.
func (p *Predictor) Probabilities(times []int) (map[int][][]float64, error) {
	members := p.ensemble()
	out := make(map[int][][]float64, len(times))
	if len(members) == 0 {
		for _, t := range times {
			out[t] = nil
		}
		return out, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLocked(times, members); err != nil {
		return nil, err
	}
	for _, t := range times {
		out[t] = p.probCache[t]
	}
	return out, nil
}

// Predictions returns the hard per-object label for each requested time:
// 1 + argmax over class probabilities, with background forced to 0.
func (p *Predictor) Predictions(times []int) (map[int][]uint32, error) {
	probs, err := p.Probabilities(times)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]uint32, len(times))
	for t, m := range probs {
		labels := make([]uint32, len(m))
		for i, row := range m {
			if i == 0 || len(row) == 0 {
				continue
			}
			labels[i] = 1 + uint32(floats.MaxIdx(row))
		}
		out[t] = labels
	}
	return out, nil
}

// ProbabilityChannel returns the single probability column for one class
// (0-based channel, so channel c holds class c+1). A channel beyond what was
// predicted for a time yields a zero column of matching row count.
func (p *Predictor) ProbabilityChannel(channel int, times []int) (map[int][]float64, error) {
	probs, err := p.Probabilities(times)
	if err != nil {
		return nil, err
	}
	out := make(map[int][]float64, len(times))
	for t, m := range probs {
		col := make([]float64, len(m))
		for i, row := range m {
			if channel >= 0 && channel < len(row) {
				col[i] = row[channel]
			}
		}
		out[t] = col
	}
	return out, nil
}

// CachedProbabilities returns whatever is already cached for the requested
// times without computing anything.
func (p *Predictor) CachedProbabilities(times []int) map[int][][]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[int][][]float64{}
	for _, t := range times {
		if m, ok := p.probCache[t]; ok {
			out[t] = m
		}
	}
	return out
}

// BadObjects returns, per requested time, a flag vector marking objects whose
// feature rows required non-finite sanitization during prediction.
func (p *Predictor) BadObjects(times []int) (map[int][]uint8, error) {
	members := p.ensemble()
	out := make(map[int][]uint8, len(times))
	if len(members) == 0 {
		for _, t := range times {
			out[t] = nil
		}
		return out, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLocked(times, members); err != nil {
		return nil, err
	}
	for _, t := range times {
		out[t] = p.badObjects[t]
	}
	return out, nil
}
