package voxmap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// TraceRay walks the voxel grid from origin towards end and returns the keys
// crossed strictly between the origin voxel and the end voxel, in order.
// Keys are appended to buf[:0] so callers can reuse one buffer per frame.
//
// The walk is an incremental DDA: at each step it advances along the axis
// whose next voxel boundary is nearest in parametric distance.
func TraceRay(codec KeyCodec, origin, end r3.Vec, buf []Key) ([]Key, error) {
	ray := buf[:0]

	keyOrigin, ok := codec.Encode(origin)
	if !ok {
		return ray, traceEncodeError(origin)
	}
	keyEnd, ok := codec.Encode(end)
	if !ok {
		return ray, traceEncodeError(end)
	}
	if keyOrigin == keyEnd {
		return ray, ErrDegenerateRay
	}

	dir := r3.Sub(end, origin)
	length := r3.Norm(dir)
	dir = r3.Scale(1/length, dir)

	res := codec.Resolution()
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	off := codec.Origin()
	base := [3]float64{off.X, off.Y, off.Z}
	cur := [3]int32{keyOrigin.X, keyOrigin.Y, keyOrigin.Z}

	var step [3]int32
	var tMax, tDelta [3]float64
	for i := range 3 {
		switch {
		case d[i] > 0:
			step[i] = 1
		case d[i] < 0:
			step[i] = -1
		}
		if step[i] == 0 {
			tMax[i] = math.Inf(1)
			tDelta[i] = math.Inf(1)
			continue
		}
		border := float64(cur[i]) * res
		if step[i] > 0 {
			border += res
		}
		border += base[i]
		tMax[i] = (border - o[i]) / d[i]
		tDelta[i] = res / math.Abs(d[i])
	}

	// Upper bound on steps so numerical trouble cannot loop forever.
	maxSteps := absDiff(keyOrigin.X, keyEnd.X) + absDiff(keyOrigin.Y, keyEnd.Y) + absDiff(keyOrigin.Z, keyEnd.Z) + 3
	limit := codec.MaxKey()

	for n := int64(0); n < maxSteps; n++ {
		dim := 0
		if tMax[1] < tMax[dim] {
			dim = 1
		}
		if tMax[2] < tMax[dim] {
			dim = 2
		}

		cur[dim] += step[dim]
		tMax[dim] += tDelta[dim]
		if !inRange(cur[dim], limit) {
			return ray[:0], fmt.Errorf("%w: ray leaves key range on axis %d", ErrKeyOutOfRange, dim)
		}

		k := Key{X: cur[0], Y: cur[1], Z: cur[2]}
		if k == keyEnd {
			return ray, nil
		}
		if math.Min(tMax[0], math.Min(tMax[1], tMax[2])) > length {
			return ray, nil
		}
		ray = append(ray, k)
	}
	return ray, nil
}

func traceEncodeError(p r3.Vec) error {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) ||
		math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPoint, p)
	}
	return fmt.Errorf("%w: %v", ErrKeyOutOfRange, p)
}

func absDiff(a, b int32) int64 {
	d := int64(a) - int64(b)
	if d < 0 {
		return -d
	}
	return d
}
