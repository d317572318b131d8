package voxmap

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Contains reports whether p lies inside the box, bounds included.
func (b BoundingBox) Contains(p r3.Vec) bool {
	return p.X >= b.XMin && p.X <= b.XMax &&
		p.Y >= b.YMin && p.Y <= b.YMax &&
		p.Z >= b.ZMin && p.Z <= b.ZMax
}

// IsZero reports whether the box was left unset.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// Valid reports whether every min is not greater than its max.
func (b BoundingBox) Valid() bool {
	return b.XMin <= b.XMax && b.YMin <= b.YMax && b.ZMin <= b.ZMax
}

// IsFrontier reports whether k is unoccupied and its 26-neighborhood holds
// at least one unknown and at least one free voxel.
func IsFrontier(r MapReader, k Key) bool {
	if r.Query(k) == Occupied {
		return false
	}
	sawUnknown, sawFree := false, false
	for _, d := range neighborOffsets {
		switch r.Query(k.Add(d)) {
		case Unknown:
			sawUnknown = true
		case Free:
			sawFree = true
		}
		if sawUnknown && sawFree {
			return true
		}
	}
	return false
}

// DetectFrontiers returns the keys of changed whose voxel center lies in
// bounds and which satisfy IsFrontier. The caller holds a read lock.
func DetectFrontiers(r MapReader, changed KeySet, bounds BoundingBox) KeySet {
	codec := r.Codec()
	out := make(KeySet)
	for k := range changed {
		if !bounds.Contains(codec.Decode(k)) {
			continue
		}
		if IsFrontier(r, k) {
			out.Add(k)
		}
	}
	return out
}

// MergeStats summarizes one FrontierSet.Merge call.
type MergeStats struct {
	Removed int `json:"removed"`
	Added   int `json:"added"`
	Size    int `json:"size"`
}

// FrontierSet is the persistent set of frontier voxels.
type FrontierSet struct {
	mu   sync.RWMutex
	keys KeySet
}

// NewFrontierSet returns an empty set.
func NewFrontierSet() *FrontierSet {
	return &FrontierSet{keys: make(KeySet)}
}

// Merge drops members that no longer satisfy IsFrontier, then adds the
// candidates. The caller holds a read lock on the map behind r.
func (s *FrontierSet) Merge(r MapReader, candidates KeySet) MergeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats MergeStats
	var stale []Key
	for k := range s.keys {
		if !IsFrontier(r, k) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		delete(s.keys, k)
	}
	stats.Removed = len(stale)

	for k := range candidates {
		if _, ok := s.keys[k]; !ok {
			s.keys[k] = struct{}{}
			stats.Added++
		}
	}
	stats.Size = len(s.keys)
	return stats
}

// Len returns the number of frontier voxels.
func (s *FrontierSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Contains reports whether k is a member.
func (s *FrontierSet) Contains(k Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Has(k)
}

// Snapshot returns the members in sorted order.
func (s *FrontierSet) Snapshot() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys.Sorted()
}

// Centers returns the voxel centers of the members in sorted key order.
func (s *FrontierSet) Centers(codec KeyCodec) []r3.Vec {
	keys := s.Snapshot()
	out := make([]r3.Vec, len(keys))
	for i, k := range keys {
		out[i] = codec.Decode(k)
	}
	return out
}

// Reset empties the set.
func (s *FrontierSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(KeySet)
}
