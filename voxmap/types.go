package voxmap

import (
	"fmt"
	"sort"
	"time"
)

// Key is the quantized integer coordinate of a voxel.
type Key struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Z)
}

// Add returns k offset by d.
func (k Key) Add(d Key) Key {
	return Key{X: k.X + d.X, Y: k.Y + d.Y, Z: k.Z + d.Z}
}

// Less orders keys by X, then Y, then Z.
func (k Key) Less(o Key) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// neighborOffsets holds the 26 offsets with at least one non-zero component.
var neighborOffsets = func() [26]Key {
	var out [26]Key
	i := 0
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out[i] = Key{X: dx, Y: dy, Z: dz}
				i++
			}
		}
	}
	return out
}()

// Neighbors returns the 26 keys adjacent to k across faces, edges and corners.
func (k Key) Neighbors() [26]Key {
	var out [26]Key
	for i, d := range neighborOffsets {
		out[i] = k.Add(d)
	}
	return out
}

// KeySet is an unordered set of voxel keys.
type KeySet map[Key]struct{}

// NewKeySet builds a set from the given keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s KeySet) Add(k Key)    { s[k] = struct{}{} }
func (s KeySet) Remove(k Key) { delete(s, k) }
func (s KeySet) Len() int     { return len(s) }

func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// AddAll adds every key in keys.
func (s KeySet) AddAll(keys []Key) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Union adds every key of o to s.
func (s KeySet) Union(o KeySet) {
	for k := range o {
		s[k] = struct{}{}
	}
}

// Subtract removes every key of o from s.
func (s KeySet) Subtract(o KeySet) {
	// iterate the smaller side
	if len(o) < len(s) {
		for k := range o {
			delete(s, k)
		}
		return
	}
	for k := range s {
		if _, ok := o[k]; ok {
			delete(s, k)
		}
	}
}

// Sorted returns the keys in a deterministic order.
func (s KeySet) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Occupancy is the observed state of a voxel.
type Occupancy int

const (
	Unknown Occupancy = iota
	Free
	Occupied
)

func (o Occupancy) String() string {
	switch o {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Label classifies a point against the known foreground shapes.
type Label uint8

const (
	// Outside points are ordinary obstacle observations.
	Outside Label = iota
	// Inside points land on a known shape and become model cells.
	Inside
	// Clip points contribute free space along their ray but are never marked.
	Clip
)

func (l Label) String() string {
	switch l {
	case Inside:
		return "inside"
	case Clip:
		return "clip"
	default:
		return "outside"
	}
}

// Node is a stored voxel and its log-odds value.
type Node struct {
	Key     Key     `json:"key"`
	LogOdds float64 `json:"logOdds"`
}

// MapStats summarizes the contents of an OccupancyMap.
type MapStats struct {
	Nodes    int `json:"nodes"`
	Occupied int `json:"occupied"`
	Free     int `json:"free"`
}

// Vec3 is a YAML-friendly 3D vector.
type Vec3 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// RPY is a rotation given as roll, pitch and yaw in degrees.
type RPY struct {
	Roll  float64 `yaml:"roll" json:"roll"`
	Pitch float64 `yaml:"pitch" json:"pitch"`
	Yaw   float64 `yaml:"yaw" json:"yaw"`
}

// PoseConfig is a static sensor-to-map transform.
type PoseConfig struct {
	Translation Vec3 `yaml:"translation" json:"translation"`
	Rotation    RPY  `yaml:"rotation" json:"rotation"`
}

// MapConfig holds the occupancy model parameters.
type MapConfig struct {
	Resolution  float64 `yaml:"resolution" json:"resolution"`
	Origin      Vec3    `yaml:"origin" json:"origin"`
	MaxKey      int32   `yaml:"maxKey" json:"maxKey"`
	HitLog      float64 `yaml:"hitLog" json:"hitLog"`
	MissLog     float64 `yaml:"missLog" json:"missLog"`
	ClampMinLog float64 `yaml:"clampMinLog" json:"clampMinLog"`
	ClampMaxLog float64 `yaml:"clampMaxLog" json:"clampMaxLog"`
}

// Default occupancy parameters: p(hit)=0.7, p(miss)=0.4, clamped to [0.12, 0.97].
const (
	DefaultResolution  = 0.1
	DefaultMaxKey      = 1 << 15
	DefaultHitLog      = 0.85
	DefaultMissLog     = -0.4
	DefaultClampMinLog = -2.0
	DefaultClampMaxLog = 3.5
)

// DefaultMapConfig returns the standard occupancy parameters.
func DefaultMapConfig() MapConfig {
	return MapConfig{
		Resolution:  DefaultResolution,
		MaxKey:      DefaultMaxKey,
		HitLog:      DefaultHitLog,
		MissLog:     DefaultMissLog,
		ClampMinLog: DefaultClampMinLog,
		ClampMaxLog: DefaultClampMaxLog,
	}
}

// BoundingBox is an inclusive axis-aligned volume in map coordinates.
type BoundingBox struct {
	XMin float64 `yaml:"xMin" json:"xMin"`
	XMax float64 `yaml:"xMax" json:"xMax"`
	YMin float64 `yaml:"yMin" json:"yMin"`
	YMax float64 `yaml:"yMax" json:"yMax"`
	ZMin float64 `yaml:"zMin" json:"zMin"`
	ZMax float64 `yaml:"zMax" json:"zMax"`
}

// FrontierConfig restricts where frontier cells may appear.
type FrontierConfig struct {
	Bounds BoundingBox `yaml:"bounds" json:"bounds"`
}

// PublishConfig controls what the service publishes after each frame.
type PublishConfig struct {
	MapEvery int  `yaml:"mapEvery,omitempty" json:"mapEvery,omitempty"` // publish the map every N frames, 0 disables
	Filtered bool `yaml:"filtered,omitempty" json:"filtered,omitempty"` // republish the outside points of each frame
}

// SensorConfig describes one point batch source.
type SensorConfig struct {
	ID             string        `yaml:"id" json:"id"`
	Topic          string        `yaml:"topic,omitempty" json:"topic,omitempty"`
	Frame          string        `yaml:"frame,omitempty" json:"frame,omitempty"`
	MaxRange       float64       `yaml:"maxRange,omitempty" json:"maxRange,omitempty"`             // 0 means unlimited
	PointSubsample int           `yaml:"pointSubsample,omitempty" json:"pointSubsample,omitempty"` // row and column stride, default 1
	MaxUpdateRate  float64       `yaml:"maxUpdateRate,omitempty" json:"maxUpdateRate,omitempty"`   // frames per second, 0 disables limiting
	Pose           *PoseConfig   `yaml:"pose,omitempty" json:"pose,omitempty"`
	ApiURL         *string       `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // optional HTTP poll source
	PollInterval   time.Duration `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
}

// Stride returns the effective subsampling stride.
func (sc *SensorConfig) Stride() int {
	if sc.PointSubsample < 1 {
		return 1
	}
	return sc.PointSubsample
}

// Config represents the full configuration file
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	MapFrame string         `yaml:"mapFrame,omitempty" json:"mapFrame,omitempty"`
	Map      MapConfig      `yaml:"map" json:"map"`
	Frontier FrontierConfig `yaml:"frontier" json:"frontier"`
	Publish  PublishConfig  `yaml:"publish,omitempty" json:"publish,omitempty"`
	Sensors  []SensorConfig `yaml:"sensors" json:"sensors"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetSensorByID returns the sensor config for the given ID
func (c *Config) GetSensorByID(id string) *SensorConfig {
	for i := range c.Sensors {
		if c.Sensors[i].ID == id {
			return &c.Sensors[i]
		}
	}
	return nil
}
