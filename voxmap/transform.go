package voxmap

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a rigid transform: p' = Rotation(p) + Translation.
type Pose struct {
	Rotation    r3.Rotation
	Translation r3.Vec
}

// IdentityPose returns a pose that leaves points unchanged.
func IdentityPose() Pose {
	return Pose{Rotation: r3.Rotation{Real: 1}}
}

// NewPose builds a pose from a translation and roll, pitch and yaw in
// degrees. Roll is applied first, then pitch, then yaw.
func NewPose(t r3.Vec, rollDeg, pitchDeg, yawDeg float64) Pose {
	rx := r3.NewRotation(rollDeg*math.Pi/180, r3.Vec{X: 1})
	ry := r3.NewRotation(pitchDeg*math.Pi/180, r3.Vec{Y: 1})
	rz := r3.NewRotation(yawDeg*math.Pi/180, r3.Vec{Z: 1})
	q := quat.Mul(quat.Number(rz), quat.Mul(quat.Number(ry), quat.Number(rx)))
	return Pose{Rotation: r3.Rotation(q), Translation: t}
}

// PoseFromConfig converts a configured pose. Nil yields nil.
func PoseFromConfig(pc *PoseConfig) *Pose {
	if pc == nil {
		return nil
	}
	p := NewPose(
		r3.Vec{X: pc.Translation.X, Y: pc.Translation.Y, Z: pc.Translation.Z},
		pc.Rotation.Roll, pc.Rotation.Pitch, pc.Rotation.Yaw,
	)
	return &p
}

// Apply transforms a single point.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Add(p.Rotation.Rotate(v), p.Translation)
}

// ApplyAll transforms points into a new slice. Non-finite points stay as they are.
func (p Pose) ApplyAll(points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, v := range points {
		if !isFinite(v) {
			out[i] = v
			continue
		}
		out[i] = p.Apply(v)
	}
	return out
}

// Compose returns the pose that applies other first, then p.
func (p Pose) Compose(other Pose) Pose {
	q := quat.Mul(quat.Number(p.Rotation), quat.Number(other.Rotation))
	return Pose{Rotation: r3.Rotation(q), Translation: p.Apply(other.Translation)}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := r3.Rotation(quat.Conj(quat.Number(p.Rotation)))
	t := inv.Rotate(p.Translation)
	return Pose{Rotation: inv, Translation: r3.Scale(-1, t)}
}

// TransformFrame returns a copy of f with its origin and points moved into
// the map frame by pose. Labels are shared.
func TransformFrame(f *Frame, pose Pose) *Frame {
	out := *f
	out.Origin = pose.Apply(f.Origin)
	out.Points = pose.ApplyAll(f.Points)
	out.Pose = nil
	return &out
}
