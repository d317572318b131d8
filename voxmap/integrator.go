package voxmap

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Frame is one classified point batch in map coordinates, or in the sensor
// frame when Pose is set.
type Frame struct {
	SensorID string
	FrameID  string
	Stamp    time.Time
	Origin   r3.Vec
	// Width and Height describe an organized cloud; Height <= 1 means a flat list.
	Width  int
	Height int
	Points []r3.Vec
	// Labels holds one label per point. Empty means every point is Outside.
	Labels []Label
	// Pose maps sensor coordinates into the map frame. Nil means unknown.
	Pose *Pose
}

// Dims returns the effective row and column counts of the frame.
func (f *Frame) Dims() (rows, cols int) {
	if f.Height <= 1 || !gridMatches(f.Width, f.Height, len(f.Points)) {
		return 1, len(f.Points)
	}
	return f.Height, f.Width
}

// gridMatches reports whether a width x height grid holds exactly n points.
// It divides instead of multiplying so hostile dimensions cannot overflow.
func gridMatches(width, height, n int) bool {
	return width > 0 && height > 0 && n%height == 0 && n/height == width
}

// Label returns the label of point i.
func (f *Frame) Label(i int) Label {
	if i < len(f.Labels) {
		return f.Labels[i]
	}
	return Outside
}

// Validate checks that labels and dimensions agree with the point count.
func (f *Frame) Validate() error {
	if len(f.Labels) != 0 && len(f.Labels) != len(f.Points) {
		return fmt.Errorf("%w: %d labels for %d points", ErrInvalidFrame, len(f.Labels), len(f.Points))
	}
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.Height > 1 && !gridMatches(f.Width, f.Height, len(f.Points)) {
		return fmt.Errorf("%w: %dx%d does not match %d points", ErrInvalidFrame, f.Width, f.Height, len(f.Points))
	}
	return nil
}

// IntegrateOptions are the per-sensor sampling parameters.
type IntegrateOptions struct {
	MaxRange     float64 // points farther than this are clipped; 0 disables
	Subsample    int     // row and column stride
	KeepFiltered bool    // return the outside points that were used
}

// IntegrationResult reports what a frame contributed to the map.
type IntegrationResult struct {
	Sampled     int
	Skipped     int // NaN or unencodable points
	Occupied    int
	Free        int
	Model       int
	Clip        int
	RayFailures int
	Changed     int // stored values that actually changed
	Filtered    []r3.Vec
	TraceTime   time.Duration
	CommitTime  time.Duration
}

// Integrator applies frames to an OccupancyMap. Not safe for concurrent use.
type Integrator struct {
	m   *OccupancyMap
	ray []Key
}

// NewIntegrator returns an integrator writing to m.
func NewIntegrator(m *OccupancyMap) *Integrator {
	return &Integrator{m: m}
}

// Integrate buckets the frame's points, traces free space under the read
// lock, reconciles the key sets and commits them under the write lock.
// A map-internal failure stops the current phase; updates already
// committed stay in the map.
func (in *Integrator) Integrate(f *Frame, opts IntegrateOptions) (IntegrationResult, error) {
	var res IntegrationResult
	if err := f.Validate(); err != nil {
		return res, err
	}
	if !isFinite(f.Origin) {
		return res, fmt.Errorf("%w: sensor origin %v", ErrInvalidPoint, f.Origin)
	}

	codec := in.m.Codec()
	occupied := make(KeySet)
	model := make(KeySet)
	clip := make(KeySet)

	stride := opts.Subsample
	if stride < 1 {
		stride = 1
	}
	rows, cols := f.Dims()
	for row := 0; row < rows; row += stride {
		for col := 0; col < cols; col += stride {
			i := row*cols + col
			p := f.Points[i]
			res.Sampled++
			if !isFinite(p) {
				res.Skipped++
				continue
			}
			k, ok := codec.Encode(p)
			if !ok {
				res.Skipped++
				continue
			}

			// Range is tested before the label: a point past MaxRange is
			// clipped even when it lies on the robot model.
			label := f.Label(i)
			if opts.MaxRange > 0 && r3.Norm(r3.Sub(p, f.Origin)) > opts.MaxRange {
				label = Clip
			}
			switch label {
			case Inside:
				model.Add(k)
			case Clip:
				clip.Add(k)
			default:
				occupied.Add(k)
				if opts.KeepFiltered {
					res.Filtered = append(res.Filtered, p)
				}
			}
		}
	}

	free := make(KeySet)
	start := time.Now()
	err := in.m.View(func(_ MapReader) error {
		for _, set := range []KeySet{occupied, model, clip} {
			for k := range set {
				keys, err := TraceRay(codec, f.Origin, codec.Decode(k), in.ray)
				in.ray = keys
				if err != nil {
					if errors.Is(err, ErrDegenerateRay) || errors.Is(err, ErrKeyOutOfRange) || errors.Is(err, ErrInvalidPoint) {
						res.RayFailures++
						continue
					}
					return err
				}
				free.AddAll(keys)
			}
		}
		return nil
	})
	res.TraceTime = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("tracing free space: %w", err)
	}

	// Model cells are never occupied, and an occupied observation beats a
	// free inference from another ray.
	occupied.Subtract(model)
	free.Subtract(occupied)

	res.Occupied = occupied.Len()
	res.Free = free.Len()
	res.Model = model.Len()
	res.Clip = clip.Len()

	minLog := in.m.Params().ClampMinLog
	start = time.Now()
	err = in.m.Commit(func(w MapWriter) error {
		for k := range free {
			changed, err := w.Update(k, false)
			if err != nil {
				return err
			}
			if changed {
				res.Changed++
			}
		}
		for k := range occupied {
			changed, err := w.Update(k, true)
			if err != nil {
				return err
			}
			if changed {
				res.Changed++
			}
		}
		for k := range model {
			changed, err := w.UpdateToValue(k, minLog)
			if err != nil {
				return err
			}
			if changed {
				res.Changed++
			}
		}
		return nil
	})
	res.CommitTime = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("committing frame: %w", err)
	}
	return res, nil
}

func isFinite(p r3.Vec) bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
