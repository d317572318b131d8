package voxmap

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// occupancyThreshold separates free from occupied log-odds values.
const occupancyThreshold = 0.0

// MapReader is the query surface available while a read lock is held.
type MapReader interface {
	Query(k Key) Occupancy
	LogOdds(k Key) (float64, bool)
	Codec() KeyCodec
}

// MapWriter adds mutation to MapReader. Only available under the write lock.
type MapWriter interface {
	MapReader
	// Update applies a hit or miss and reports whether the stored value changed.
	Update(k Key, occupied bool) (bool, error)
	// UpdateToValue stores v (clamped) and reports whether the stored value changed.
	UpdateToValue(k Key, v float64) (bool, error)
}

// OccupancyMap is a sparse log-odds voxel map guarded by a reader/writer lock.
// Every mutation that changes a stored value is reported to its ChangeTracker.
type OccupancyMap struct {
	mu      sync.RWMutex
	codec   KeyCodec
	params  MapConfig
	nodes   map[Key]float64
	changes *ChangeTracker
}

// NewOccupancyMap creates an empty map with an armed change tracker.
func NewOccupancyMap(params MapConfig) *OccupancyMap {
	origin := r3.Vec{X: params.Origin.X, Y: params.Origin.Y, Z: params.Origin.Z}
	return &OccupancyMap{
		codec:   NewKeyCodec(params.Resolution, origin, params.MaxKey),
		params:  params,
		nodes:   make(map[Key]float64),
		changes: NewChangeTracker(),
	}
}

// Codec returns the key codec of the map.
func (m *OccupancyMap) Codec() KeyCodec { return m.codec }

// Params returns the occupancy parameters of the map.
func (m *OccupancyMap) Params() MapConfig { return m.params }

// Changes returns the change tracker fed by this map.
func (m *OccupancyMap) Changes() *ChangeTracker { return m.changes }

// View runs fn under the shared read lock. A panic inside fn is returned
// as ErrMapInternal after the lock is released.
func (m *OccupancyMap) View(fn func(MapReader) error) (err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: read phase: %v", ErrMapInternal, r)
		}
	}()
	return fn(mapView{m})
}

// Commit runs fn under the exclusive write lock. A panic inside fn is
// returned as ErrMapInternal after the lock is released.
func (m *OccupancyMap) Commit(fn func(MapWriter) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: write phase: %v", ErrMapInternal, r)
		}
	}()
	return fn(mapTxn{mapView{m}})
}

// Query locks for reading and returns the state of k.
func (m *OccupancyMap) Query(k Key) Occupancy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapView{m}.Query(k)
}

// LogOdds locks for reading and returns the stored value of k.
func (m *OccupancyMap) LogOdds(k Key) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mapView{m}.LogOdds(k)
}

// Update locks for writing and applies a single hit or miss.
func (m *OccupancyMap) Update(k Key, occupied bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mapTxn{mapView{m}}.Update(k, occupied)
}

// UpdateToValue locks for writing and stores an explicit value.
func (m *OccupancyMap) UpdateToValue(k Key, v float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mapTxn{mapView{m}}.UpdateToValue(k, v)
}

// Enumerate returns a sorted snapshot of every stored node.
func (m *OccupancyMap) Enumerate() []Node {
	m.mu.RLock()
	nodes := make([]Node, 0, len(m.nodes))
	for k, v := range m.nodes {
		nodes = append(nodes, Node{Key: k, LogOdds: v})
	}
	m.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key.Less(nodes[j].Key) })
	return nodes
}

// Stats counts stored, occupied and free nodes.
func (m *OccupancyMap) Stats() MapStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := MapStats{Nodes: len(m.nodes)}
	for _, v := range m.nodes {
		if v > occupancyThreshold {
			s.Occupied++
		} else {
			s.Free++
		}
	}
	return s
}

// Len returns the number of stored nodes.
func (m *OccupancyMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Clear drops every node. Dropped keys are not reported as changes.
func (m *OccupancyMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[Key]float64)
}

// mapView implements MapReader without locking; the caller holds the lock.
type mapView struct {
	m *OccupancyMap
}

func (v mapView) Codec() KeyCodec { return v.m.codec }

func (v mapView) LogOdds(k Key) (float64, bool) {
	val, ok := v.m.nodes[k]
	return val, ok
}

func (v mapView) Query(k Key) Occupancy {
	val, ok := v.m.nodes[k]
	if !ok {
		return Unknown
	}
	if val > occupancyThreshold {
		return Occupied
	}
	return Free
}

// mapTxn implements MapWriter without locking; the caller holds the write lock.
type mapTxn struct {
	mapView
}

func (t mapTxn) Update(k Key, occupied bool) (bool, error) {
	delta := t.m.params.MissLog
	if occupied {
		delta = t.m.params.HitLog
	}
	prev := t.m.nodes[k]
	return t.set(k, prev+delta)
}

func (t mapTxn) UpdateToValue(k Key, v float64) (bool, error) {
	return t.set(k, v)
}

func (t mapTxn) set(k Key, v float64) (bool, error) {
	if !t.m.codec.InRange(k) {
		return false, fmt.Errorf("%w: %w %v", ErrMapInternal, ErrKeyOutOfRange, k)
	}
	if math.IsNaN(v) {
		return false, fmt.Errorf("%w: NaN log-odds for %v", ErrMapInternal, k)
	}
	v = clamp(v, t.m.params.ClampMinLog, t.m.params.ClampMaxLog)

	prev, existed := t.m.nodes[k]
	if existed && prev == v {
		return false, nil
	}
	t.m.nodes[k] = v
	t.m.changes.Record(k)
	return true, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
