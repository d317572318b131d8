package voxmap

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// FrameReport summarizes one processed frame.
type FrameReport struct {
	SensorID    string            `json:"sensor"`
	FrameID     string            `json:"frame"`
	Stamp       time.Time         `json:"stamp"`
	Integration IntegrationResult `json:"-"`
	Points      int               `json:"points"`
	Changed     int               `json:"changed"`
	Candidates  int               `json:"candidates"`
	Merge       MergeStats        `json:"frontier"`
	Map         MapStats          `json:"map"`

	IntegrateTime time.Duration `json:"integrateNs"`
	TrackTime     time.Duration `json:"trackNs"`
	FindTime      time.Duration `json:"findNs"`
	MergeTime     time.Duration `json:"mergeNs"`
}

// FrameListener is called after every successfully processed frame.
type FrameListener func(report FrameReport, frame *Frame)

// MapperOptions configures NewMapper.
type MapperOptions struct {
	Clock   Clock
	Metrics *Metrics
	// KeepFiltered asks the integrator to return the outside points of each frame.
	KeepFiltered bool
}

type sensorState struct {
	cfg     SensorConfig
	limiter *FrameLimiter
	pose    *Pose
}

// Mapper drives frames through integration, change tracking, frontier
// detection and frontier merging. Frames are processed one at a time.
type Mapper struct {
	frameMu    sync.Mutex
	occupancy  *OccupancyMap
	integrator *Integrator
	frontier   *FrontierSet
	bounds     BoundingBox
	clock      Clock
	metrics    *Metrics
	keepPoints bool

	mu        sync.RWMutex
	mapFrame  string
	sensors   map[string]*sensorState
	listeners []FrameListener
	last      *FrameReport
	warned    map[string]bool
}

// NewMapper builds a mapper for cfg. A zero frontier bounding box leaves
// frontier detection unbounded.
func NewMapper(cfg *Config, opts MapperOptions) *Mapper {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	m := NewOccupancyMap(cfg.Map)
	bounds := cfg.Frontier.Bounds
	if bounds.IsZero() {
		inf := math.Inf(1)
		bounds = BoundingBox{XMin: -inf, XMax: inf, YMin: -inf, YMax: inf, ZMin: -inf, ZMax: inf}
	}

	mp := &Mapper{
		occupancy:  m,
		integrator: NewIntegrator(m),
		frontier:   NewFrontierSet(),
		bounds:     bounds,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		keepPoints: opts.KeepFiltered,
		mapFrame:   cfg.MapFrame,
		sensors:    make(map[string]*sensorState),
		warned:     make(map[string]bool),
	}
	for _, sc := range cfg.Sensors {
		mp.sensors[sc.ID] = mp.newSensorState(sc)
	}
	return mp
}

func (mp *Mapper) newSensorState(sc SensorConfig) *sensorState {
	return &sensorState{
		cfg:     sc,
		limiter: NewFrameLimiter(sc.MaxUpdateRate, mp.clock),
		pose:    PoseFromConfig(sc.Pose),
	}
}

// Map returns the occupancy map owned by the mapper.
func (mp *Mapper) Map() *OccupancyMap { return mp.occupancy }

// Frontier returns the persistent frontier set.
func (mp *Mapper) Frontier() *FrontierSet { return mp.frontier }

// MapFrame returns the established map frame, or "" before the first frame.
func (mp *Mapper) MapFrame() string {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.mapFrame
}

// LastReport returns the report of the most recent processed frame.
func (mp *Mapper) LastReport() (FrameReport, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	if mp.last == nil {
		return FrameReport{}, false
	}
	return *mp.last, true
}

// Reset forgets the map, the frontier and the last report. The map frame
// and per-sensor state are kept. Frontier members are dropped with the map
// because they are only re-validated against stored nodes.
func (mp *Mapper) Reset() {
	mp.frameMu.Lock()
	defer mp.frameMu.Unlock()

	mp.occupancy.Clear()
	mp.occupancy.Changes().BeginCycle()
	mp.frontier.Reset()

	mp.mu.Lock()
	mp.last = nil
	mp.mu.Unlock()
	log.Println("Map and frontier cleared")
}

// OnFrame registers a listener for processed frames.
func (mp *Mapper) OnFrame(l FrameListener) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.listeners = append(mp.listeners, l)
}

// HandleFrame is a FrameHandler that processes f and logs failures.
// Rejections are logged once per sensor and cause.
func (mp *Mapper) HandleFrame(f *Frame) {
	_, err := mp.ProcessFrame(f)
	switch {
	case err == nil:
	case IsRejection(err):
		mp.warnOnce(f.SensorID, err)
	default:
		log.Printf("Error processing frame from %s: %v", f.SensorID, err)
	}
}

func (mp *Mapper) warnOnce(sensor string, err error) {
	cause := sensor + ":" + rejectionReason(err)
	mp.mu.Lock()
	seen := mp.warned[cause]
	mp.warned[cause] = true
	mp.mu.Unlock()
	if !seen && !errors.Is(err, ErrRateLimited) {
		log.Printf("Warning: dropping frames from %s: %v", sensor, err)
	}
}

// ProcessFrame integrates f and reconciles the frontier set.
func (mp *Mapper) ProcessFrame(f *Frame) (FrameReport, error) {
	mp.frameMu.Lock()
	defer mp.frameMu.Unlock()

	report := FrameReport{SensorID: f.SensorID, FrameID: f.FrameID, Stamp: f.Stamp, Points: len(f.Points)}
	st := mp.sensor(f.SensorID)

	if !st.limiter.Allow() {
		mp.metrics.observeDrop(f.SensorID, "rate")
		return report, ErrRateLimited
	}

	mf, err := mp.resolve(f, st)
	if err != nil {
		mp.metrics.observeDrop(f.SensorID, rejectionReason(err))
		return report, err
	}

	start := time.Now()
	ir, err := mp.integrator.Integrate(mf, IntegrateOptions{
		MaxRange:     st.cfg.MaxRange,
		Subsample:    st.cfg.Stride(),
		KeepFiltered: mp.keepPoints,
	})
	report.Integration = ir
	report.IntegrateTime = time.Since(start)
	if err != nil {
		mp.metrics.observeError(f.SensorID)
		return report, err
	}

	start = time.Now()
	changed := mp.occupancy.Changes().Drain()
	report.TrackTime = time.Since(start)
	report.Changed = changed.Len()

	err = mp.occupancy.View(func(r MapReader) error {
		t := time.Now()
		candidates := DetectFrontiers(r, changed, mp.bounds)
		report.FindTime = time.Since(t)
		report.Candidates = candidates.Len()

		t = time.Now()
		report.Merge = mp.frontier.Merge(r, candidates)
		report.MergeTime = time.Since(t)
		return nil
	})
	if err != nil {
		mp.metrics.observeError(f.SensorID)
		return report, fmt.Errorf("updating frontier: %w", err)
	}
	report.Map = mp.occupancy.Stats()

	log.Printf("[FRAME] %s: %d points, %d changed cells, %d new frontier, %d removed, %d total (integrate %v, track %v, find %v, merge %v)",
		f.SensorID, report.Points, report.Changed, report.Candidates, report.Merge.Removed, report.Merge.Size,
		report.IntegrateTime, report.TrackTime, report.FindTime, report.MergeTime)

	mp.metrics.observeReport(report)

	mp.mu.Lock()
	mp.last = &report
	listeners := append([]FrameListener(nil), mp.listeners...)
	mp.mu.Unlock()

	for _, l := range listeners {
		l(report, mf)
	}
	return report, nil
}

// sensor returns the state for id, creating an unlimited one for sensors
// that are not configured.
func (mp *Mapper) sensor(id string) *sensorState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	st, ok := mp.sensors[id]
	if !ok {
		st = mp.newSensorState(SensorConfig{ID: id})
		mp.sensors[id] = st
	}
	return st
}

// resolve establishes the map frame on first use and returns f expressed in it.
func (mp *Mapper) resolve(f *Frame, st *sensorState) (*Frame, error) {
	frameID := f.FrameID
	if frameID == "" {
		frameID = st.cfg.Frame
	}

	mp.mu.Lock()
	if mp.mapFrame == "" && frameID != "" {
		mp.mapFrame = frameID
		log.Printf("Map frame set to %s (from %s)", frameID, f.SensorID)
	}
	mapFrame := mp.mapFrame
	mp.mu.Unlock()

	if mapFrame == "" {
		return nil, ErrNoMapFrame
	}
	if frameID == mapFrame {
		if f.FrameID == frameID {
			return f, nil
		}
		out := *f
		out.FrameID = frameID
		return &out, nil
	}

	pose := f.Pose
	if pose == nil {
		pose = st.pose
	}
	if pose == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoTransform, frameID, mapFrame)
	}
	out := TransformFrame(f, *pose)
	out.FrameID = mapFrame
	return out, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate"
	case errors.Is(err, ErrNoMapFrame):
		return "no_map_frame"
	case errors.Is(err, ErrNoTransform):
		return "no_transform"
	default:
		return "other"
	}
}
