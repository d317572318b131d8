package voxmap

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// testMapConfig returns default parameters at the given resolution.
func testMapConfig(res float64) MapConfig {
	cfg := DefaultMapConfig()
	cfg.Resolution = res
	return cfg
}

func newTestMap(res float64) *OccupancyMap {
	return NewOccupancyMap(testMapConfig(res))
}

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flatFrame builds an unorganized frame in the "world" frame.
func flatFrame(sensor string, origin r3.Vec, points []r3.Vec, labels []Label) *Frame {
	return &Frame{
		SensorID: sensor,
		FrameID:  "world",
		Origin:   origin,
		Width:    len(points),
		Height:   1,
		Points:   points,
		Labels:   labels,
	}
}

// setFree stores a free value for every key without going through rays.
func setFree(t interface{ Fatalf(string, ...any) }, m *OccupancyMap, keys ...Key) {
	for _, k := range keys {
		if _, err := m.UpdateToValue(k, m.Params().ClampMinLog); err != nil {
			t.Fatalf("UpdateToValue(%v) error: %v", k, err)
		}
	}
}

func setOccupied(t interface{ Fatalf(string, ...any) }, m *OccupancyMap, keys ...Key) {
	for _, k := range keys {
		if _, err := m.UpdateToValue(k, m.Params().ClampMaxLog); err != nil {
			t.Fatalf("UpdateToValue(%v) error: %v", k, err)
		}
	}
}
