// Package forest implements the classifier collaborator as a bagged decision
// forest: bootstrap-sampled gini trees with a random feature subset per
// split, averaged per-class probability output, and an out-of-bag error
// estimate reported from training for diagnostics.
package forest

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync/atomic"

	"github.com/banshee-data/objectclass/internal/classify"
)

func init() {
	gob.Register(&Forest{})
}

// Config holds the training parameters of one forest.
type Config struct {
	Trees      int   // number of trees, default 100
	MaxDepth   int   // 0 means unbounded
	MinSamples int   // minimum rows to split, default 2
	Seed       int64 // 0 means nondeterministic
}

// Node is one decision tree node. Leaf nodes carry a class probability
// distribution (index class-1); internal nodes split on Feature < Threshold.
// Fields are exported so a trained forest can be gob-serialized.
type Node struct {
	Feature   int
	Threshold float64
	Left      *Node
	Right     *Node
	Dist      []float64
}

func (n *Node) leaf() bool { return n.Dist != nil }

func (n *Node) predict(row []float64) []float64 {
	for !n.leaf() {
		if row[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Dist
}

// Forest is a trained ensemble member. Classes is the number of probability
// columns; column j holds the probability of class j+1.
type Forest struct {
	Roots   []*Node
	Classes int
}

// PredictProbabilities returns the per-row class probability matrix, averaged
// over all trees.
func (f *Forest) PredictProbabilities(features [][]float64) ([][]float64, error) {
	if len(f.Roots) == 0 {
		return nil, errors.New("forest has no trees")
	}
	out := make([][]float64, len(features))
	for i, row := range features {
		probs := make([]float64, f.Classes)
		for _, root := range f.Roots {
			dist := root.predict(row)
			for j, v := range dist {
				probs[j] += v
			}
		}
		for j := range probs {
			probs[j] /= float64(len(f.Roots))
		}
		out[i] = probs
	}
	return out, nil
}

// seedSeq decorrelates ensemble members trained concurrently from the same
// configured seed.
var seedSeq atomic.Uint64

// Learner trains forests; it implements the classify.Learner contract.
type Learner struct {
	cfg Config
}

// NewLearner creates a learner, filling config defaults.
func NewLearner(cfg Config) *Learner {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = 2
	}
	return &Learner{cfg: cfg}
}

// Train grows the forest on the given matrix and returns it with its
// out-of-bag error estimate. Labels are 1-based class ids; a degenerate
// matrix (no rows, no columns, or no nonzero label) is a training failure.
func (l *Learner) Train(features [][]float64, labels []uint32) (classify.Classifier, float64, error) {
	n := len(features)
	if n == 0 || len(features[0]) == 0 {
		return nil, 0, errors.New("degenerate training matrix")
	}
	if len(labels) != n {
		return nil, 0, fmt.Errorf("labels length %d does not match %d feature rows", len(labels), n)
	}
	classes := 0
	for _, lab := range labels {
		if lab == 0 {
			return nil, 0, errors.New("training labels must be nonzero")
		}
		if int(lab) > classes {
			classes = int(lab)
		}
	}

	cols := len(features[0])
	mTry := int(math.Sqrt(float64(cols)))
	if mTry < 1 {
		mTry = 1
	}

	seed := uint64(l.cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seedSeq.Add(1)))

	f := &Forest{Classes: classes}
	oobVotes := make([][]float64, n)

	for ti := 0; ti < l.cfg.Trees; ti++ {
		sample := make([]int, n)
		inBag := make([]bool, n)
		for i := range sample {
			r := rng.IntN(n)
			sample[i] = r
			inBag[r] = true
		}
		b := &builder{
			features:   features,
			labels:     labels,
			classes:    classes,
			mTry:       mTry,
			maxDepth:   l.cfg.MaxDepth,
			minSamples: l.cfg.MinSamples,
			rng:        rng,
		}
		root := b.build(sample, 0)
		f.Roots = append(f.Roots, root)

		for i := 0; i < n; i++ {
			if inBag[i] {
				continue
			}
			dist := root.predict(features[i])
			if oobVotes[i] == nil {
				oobVotes[i] = make([]float64, classes)
			}
			best := 0
			for j, v := range dist {
				if v > dist[best] {
					best = j
				}
			}
			oobVotes[i][best]++
		}
	}

	return f, oobError(oobVotes, labels), nil
}

// oobError is the misclassification rate over rows that were out of bag for
// at least one tree.
func oobError(votes [][]float64, labels []uint32) float64 {
	seen, wrong := 0, 0
	for i, v := range votes {
		if v == nil {
			continue
		}
		seen++
		best := 0
		for j := range v {
			if v[j] > v[best] {
				best = j
			}
		}
		if uint32(best+1) != labels[i] {
			wrong++
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(wrong) / float64(seen)
}

type builder struct {
	features   [][]float64
	labels     []uint32
	classes    int
	mTry       int
	maxDepth   int
	minSamples int
	rng        *rand.Rand
}

func (b *builder) distribution(rows []int) []float64 {
	dist := make([]float64, b.classes)
	for _, r := range rows {
		dist[b.labels[r]-1]++
	}
	for j := range dist {
		dist[j] /= float64(len(rows))
	}
	return dist
}

func (b *builder) pure(rows []int) bool {
	first := b.labels[rows[0]]
	for _, r := range rows[1:] {
		if b.labels[r] != first {
			return false
		}
	}
	return true
}

func (b *builder) build(rows []int, depth int) *Node {
	if b.pure(rows) || len(rows) < b.minSamples || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return &Node{Dist: b.distribution(rows)}
	}

	feature, threshold, ok := b.bestSplit(rows)
	if !ok {
		return &Node{Dist: b.distribution(rows)}
	}

	var left, right []int
	for _, r := range rows {
		if b.features[r][feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Dist: b.distribution(rows)}
	}
	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

// bestSplit scans a random subset of mTry features for the threshold with the
// lowest weighted gini impurity.
func (b *builder) bestSplit(rows []int) (feature int, threshold float64, ok bool) {
	cols := len(b.features[rows[0]])
	perm := b.rng.Perm(cols)
	candidates := perm[:b.mTry]

	bestGini := math.Inf(1)
	total := make([]float64, b.classes)
	for _, r := range rows {
		total[b.labels[r]-1]++
	}

	for _, f := range candidates {
		order := append([]int(nil), rows...)
		sort.Slice(order, func(i, j int) bool {
			return b.features[order[i]][f] < b.features[order[j]][f]
		})

		left := make([]float64, b.classes)
		right := append([]float64(nil), total...)
		for i := 0; i < len(order)-1; i++ {
			c := b.labels[order[i]] - 1
			left[c]++
			right[c]--
			lo := b.features[order[i]][f]
			hi := b.features[order[i+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := float64(i+1), float64(len(order)-i-1)
			g := (nl*gini(left, nl) + nr*gini(right, nr)) / float64(len(order))
			if g < bestGini {
				bestGini = g
				feature = f
				threshold = (lo + hi) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func gini(counts []float64, n float64) float64 {
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}
