// Package graph provides the small contract this engine expects from the
// surrounding demand-driven dataflow layer: dirty-region descriptors used to
// scope invalidation, and a bounded worker pool with waitable task handles.
package graph

// TimeObject identifies a single object at a single time step.
type TimeObject struct {
	Time   int
	Object int
}

// Region describes which part of a derived output must be recomputed after an
// upstream change. Exactly one granularity applies: everything, a set of time
// slices, or a set of (time, object) pairs.
type Region struct {
	All     bool
	Times   []int
	Objects []TimeObject
}

// Everything returns a region covering all state.
func Everything() Region {
	return Region{All: true}
}

// Times returns a region covering whole time slices.
func Times(ts ...int) Region {
	return Region{Times: ts}
}

// Objects returns a region covering individual (time, object) pairs.
func Objects(pairs ...TimeObject) Region {
	return Region{Objects: pairs}
}

// IsEmpty reports whether the region covers nothing at all.
func (r Region) IsEmpty() bool {
	return !r.All && len(r.Times) == 0 && len(r.Objects) == 0
}

// DirtyFunc is a dirty-notification callback registered with a producer.
type DirtyFunc func(Region)

// Notifier is a minimal dirty-notification fanout. Producers call Notify when
// their output changes; consumers register callbacks with OnDirty.
type Notifier struct {
	callbacks []DirtyFunc
}

// OnDirty registers a callback invoked on every Notify.
func (n *Notifier) OnDirty(f DirtyFunc) {
	n.callbacks = append(n.callbacks, f)
}

// Notify invokes all registered callbacks with the given region.
func (n *Notifier) Notify(r Region) {
	for _, f := range n.callbacks {
		f(r)
	}
}
