package voxmap

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// KeyCodec converts between continuous map coordinates and voxel keys.
type KeyCodec struct {
	resolution float64
	origin     r3.Vec
	maxKey     int32
}

// NewKeyCodec returns a codec for the given voxel size. Keys are valid in
// [-maxKey, maxKey) on every axis; maxKey <= 0 selects DefaultMaxKey.
func NewKeyCodec(resolution float64, origin r3.Vec, maxKey int32) KeyCodec {
	if maxKey <= 0 {
		maxKey = DefaultMaxKey
	}
	return KeyCodec{resolution: resolution, origin: origin, maxKey: maxKey}
}

// Resolution returns the voxel edge length.
func (c KeyCodec) Resolution() float64 { return c.resolution }

// Origin returns the map coordinate of the corner of key (0,0,0).
func (c KeyCodec) Origin() r3.Vec { return c.origin }

// MaxKey returns the exclusive upper bound of key components.
func (c KeyCodec) MaxKey() int32 { return c.maxKey }

// Encode quantizes p. ok is false for non-finite coordinates and for
// points that fall outside the key range.
func (c KeyCodec) Encode(p r3.Vec) (Key, bool) {
	x, okx := c.axisKey(p.X, c.origin.X)
	y, oky := c.axisKey(p.Y, c.origin.Y)
	z, okz := c.axisKey(p.Z, c.origin.Z)
	if !okx || !oky || !okz {
		return Key{}, false
	}
	return Key{X: x, Y: y, Z: z}, true
}

func (c KeyCodec) axisKey(v, origin float64) (int32, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	f := math.Floor((v - origin) / c.resolution)
	if f < float64(-c.maxKey) || f >= float64(c.maxKey) {
		return 0, false
	}
	return int32(f), true
}

// Decode returns the center of the voxel k.
func (c KeyCodec) Decode(k Key) r3.Vec {
	return r3.Vec{
		X: c.origin.X + (float64(k.X)+0.5)*c.resolution,
		Y: c.origin.Y + (float64(k.Y)+0.5)*c.resolution,
		Z: c.origin.Z + (float64(k.Z)+0.5)*c.resolution,
	}
}

// InRange reports whether every component of k is inside the key range.
func (c KeyCodec) InRange(k Key) bool {
	return inRange(k.X, c.maxKey) && inRange(k.Y, c.maxKey) && inRange(k.Z, c.maxKey)
}

func inRange(v, limit int32) bool {
	return v >= -limit && v < limit
}
