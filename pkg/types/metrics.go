package types

import (
	"maps"
	"slices"
)

// Metrics maps metric names (e.g. "val_f1") to scalar values
type Metrics map[string]float64

// Get returns the named metric and whether it was present
func (m Metrics) Get(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// Merge copies other into m, overwriting existing keys
func (m Metrics) Merge(other Metrics) {
	maps.Copy(m, other)
}

// Keys returns the metric names in sorted order
func (m Metrics) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns an independent copy
func (m Metrics) Clone() Metrics {
	if m == nil {
		return Metrics{}
	}
	return maps.Clone(m)
}
