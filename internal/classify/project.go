package classify

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/objectclass/internal/graph"
	"github.com/banshee-data/objectclass/internal/monitoring"
)

// MapProvider supplies the per-object mapping projected onto a segmentation
// slice: one scalar per object id (prediction label, class probability,
// bad-object flag).
type MapProvider interface {
	ObjectMap(t int) ([]float64, error)
}

// MapProviderFunc adapts a function to the MapProvider interface.
type MapProviderFunc func(t int) ([]float64, error)

// ObjectMap implements MapProvider.
func (f MapProviderFunc) ObjectMap(t int) ([]float64, error) { return f(t) }

// MappedImage is one projected time slice: the segmentation's object indices
// replaced by their mapped values.
type MappedImage struct {
	Dims []int
	Data []float64
}

// boxRegion is a half-open pixel region, min inclusive and max exclusive.
type boxRegion struct {
	min, max []int
}

type projectedSlice struct {
	dims  []int
	data  []float64
	dirty []boxRegion
}

// Projector maps per-object values back onto segmentation images, one cached
// slice per time step, and repaints only the invalidated regions after an
// upstream change. The feature provider is consulted solely for object
// bounding boxes, to keep a (time, object) invalidation from repainting the
// whole image.
type Projector struct {
	image    SegmentationProvider
	objmap   MapProvider
	features FeatureProvider

	mu     sync.Mutex
	slices map[int]*projectedSlice
}

// NewProjector wires a projector to its collaborators.
func NewProjector(image SegmentationProvider, objmap MapProvider, features FeatureProvider) *Projector {
	return &Projector{
		image:    image,
		objmap:   objmap,
		features: features,
		slices:   map[int]*projectedSlice{},
	}
}

// lookup maps one object index through the mapping. Objects beyond the
// mapping default to 0; the mapping is conceptually zero-extended to the
// highest object index present.
func lookup(mapping []float64, object uint32) float64 {
	if int(object) < len(mapping) {
		return mapping[object]
	}
	return 0
}

// Render returns the projected image for a time slice, repainting the whole
// slice on first access and only pending dirty regions afterwards. An empty
// mapping yields an all-zero slice.
func (p *Projector) Render(t int) (*MappedImage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sl := p.slices[t]
	if sl != nil && len(sl.dirty) == 0 {
		return copySlice(sl), nil
	}

	img, err := p.image.Slice(t)
	if err != nil {
		return nil, fmt.Errorf("pull segmentation for time %d: %w", t, err)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	mapping, err := p.objmap.ObjectMap(t)
	if err != nil {
		return nil, fmt.Errorf("pull object map for time %d: %w", t, err)
	}

	if sl == nil {
		sl = &projectedSlice{dims: img.Dims, data: make([]float64, len(img.Data))}
		for i, obj := range img.Data {
			sl.data[i] = lookup(mapping, obj)
		}
		p.slices[t] = sl
		return copySlice(sl), nil
	}

	for _, region := range sl.dirty {
		forEachIndex(sl.dims, region, func(i int) {
			sl.data[i] = lookup(mapping, img.Data[i])
		})
	}
	sl.dirty = nil
	return copySlice(sl), nil
}

func copySlice(sl *projectedSlice) *MappedImage {
	out := &MappedImage{Dims: sl.dims, Data: make([]float64, len(sl.data))}
	copy(out.Data, sl.data)
	return out
}

// MarkDirty invalidates cached output. A region covering everything drops all
// slices; whole time slices drop those entries; an explicit (time, object)
// pair invalidates only that object's bounding-box region, looked up through
// the feature provider.
func (p *Projector) MarkDirty(r graph.Region) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.All {
		p.slices = map[int]*projectedSlice{}
		return
	}
	for _, t := range r.Times {
		delete(p.slices, t)
	}
	if len(r.Objects) == 0 {
		return
	}

	byTime := map[int][]int{}
	for _, pair := range r.Objects {
		byTime[pair.Time] = append(byTime[pair.Time], pair.Object)
	}
	var times []int
	for t := range byTime {
		if p.slices[t] != nil {
			times = append(times, t)
		}
	}
	if len(times) == 0 {
		return
	}

	feats, err := p.features.Features(times)
	if err != nil {
		// Without bounding boxes the only safe move is to drop the
		// affected slices entirely.
		monitoring.Logf("objectclass: bounding-box lookup failed, dropping %d cached slices: %v", len(times), err)
		for _, t := range times {
			delete(p.slices, t)
		}
		return
	}
	for _, t := range times {
		sl := p.slices[t]
		boxes, err := BoundingBoxesFromFeatures(feats[t])
		if err != nil {
			delete(p.slices, t)
			continue
		}
		for _, obj := range byTime[t] {
			if obj >= boxes.Objects() {
				delete(p.slices, t)
				break
			}
			sl.dirty = append(sl.dirty, clampBox(boxes.Min[obj], boxes.Max[obj], sl.dims))
		}
	}
}

// dirtyRegions reports the pending repaint regions for a cached slice.
func (p *Projector) dirtyRegions(t int) []boxRegion {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sl := p.slices[t]; sl != nil {
		return append([]boxRegion(nil), sl.dirty...)
	}
	return nil
}

func clampBox(min, max []float64, dims []int) boxRegion {
	r := boxRegion{min: make([]int, len(dims)), max: make([]int, len(dims))}
	for a := range dims {
		lo, hi := 0, dims[a]
		if a < len(min) {
			lo = int(math.Floor(min[a]))
		}
		if a < len(max) {
			hi = int(math.Ceil(max[a]))
		}
		if lo < 0 {
			lo = 0
		}
		if hi > dims[a] {
			hi = dims[a]
		}
		r.min[a], r.max[a] = lo, hi
	}
	return r
}

// forEachIndex visits the row-major linear index of every pixel inside the
// region. Supports 2D and 3D slices.
func forEachIndex(dims []int, r boxRegion, visit func(i int)) {
	switch len(dims) {
	case 2:
		for x := r.min[0]; x < r.max[0]; x++ {
			base := x * dims[1]
			for y := r.min[1]; y < r.max[1]; y++ {
				visit(base + y)
			}
		}
	case 3:
		for x := r.min[0]; x < r.max[0]; x++ {
			for y := r.min[1]; y < r.max[1]; y++ {
				base := (x*dims[1] + y) * dims[2]
				for z := r.min[2]; z < r.max[2]; z++ {
					visit(base + z)
				}
			}
		}
	}
}

// MultiProjector projects several per-object mappings onto the same
// segmentation simultaneously, one output channel per mapping (for instance
// one probability channel per class). It is a flat list of per-channel
// projectors sharing the image and feature inputs.
type MultiProjector struct {
	inner []*Projector
}

// NewMultiProjector creates one projector per mapping.
func NewMultiProjector(image SegmentationProvider, maps []MapProvider, features FeatureProvider) *MultiProjector {
	mp := &MultiProjector{}
	for _, m := range maps {
		mp.inner = append(mp.inner, NewProjector(image, m, features))
	}
	return mp
}

// Channels returns the number of output channels.
func (mp *MultiProjector) Channels() int {
	return len(mp.inner)
}

// Render projects every channel for one time slice.
func (mp *MultiProjector) Render(t int) ([]*MappedImage, error) {
	out := make([]*MappedImage, len(mp.inner))
	for i, pr := range mp.inner {
		img, err := pr.Render(t)
		if err != nil {
			return nil, fmt.Errorf("render channel %d: %w", i, err)
		}
		out[i] = img
	}
	return out, nil
}

// MarkDirty fans the invalidation out to every channel.
func (mp *MultiProjector) MarkDirty(r graph.Region) {
	for _, pr := range mp.inner {
		pr.MarkDirty(r)
	}
}
