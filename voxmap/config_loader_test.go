package voxmap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfigYAML = `
mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "explore"
mapFrame: "map"
map:
  resolution: 0.05
  origin: {x: -10, y: -10, z: 0}
frontier:
  bounds: {xMin: -5, xMax: 5, yMin: -5, yMax: 5, zMin: 0, zMax: 2}
publish:
  mapEvery: 10
sensors:
  - id: "front"
    topic: "sensors/front/points"
    frame: "front_link"
    maxRange: 8
    pointSubsample: 2
    maxUpdateRate: 5
    pose:
      translation: {x: 0.2, y: 0, z: 0.5}
      rotation: {roll: 0, pitch: 0, yaw: 90}
  - id: "depth"
    apiUrl: "http://camera.local/points"
    pollInterval: 2s
`

func TestParseConfig(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	t.Setenv("MQTT_PUBLISH_PREFIX", "")

	cfg, err := ParseConfig([]byte(sampleConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "explore", cfg.MQTT.PublishPrefix)
	assert.Equal(t, "map", cfg.MapFrame)
	assert.Equal(t, 0.05, cfg.Map.Resolution)
	assert.Equal(t, Vec3{X: -10, Y: -10}, cfg.Map.Origin)
	assert.Equal(t, 10, cfg.Publish.MapEvery)

	// Unset parameters get defaults.
	assert.Equal(t, DefaultHitLog, cfg.Map.HitLog)
	assert.Equal(t, DefaultMissLog, cfg.Map.MissLog)
	assert.Equal(t, int32(DefaultMaxKey), cfg.Map.MaxKey)

	require.Len(t, cfg.Sensors, 2)
	front := cfg.GetSensorByID("front")
	require.NotNil(t, front)
	assert.Equal(t, 8.0, front.MaxRange)
	assert.Equal(t, 2, front.Stride())
	require.NotNil(t, front.Pose)
	assert.Equal(t, 90.0, front.Pose.Rotation.Yaw)

	depth := cfg.GetSensorByID("depth")
	require.NotNil(t, depth)
	require.NotNil(t, depth.ApiURL)
	assert.Equal(t, "http://camera.local/points", *depth.ApiURL)
	assert.Equal(t, 2*time.Second, depth.PollInterval)
	assert.Equal(t, 1, depth.Stride())

	assert.Nil(t, cfg.GetSensorByID("missing"))
}

func TestParseConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_CLIENT_ID", "mapper-1")
	t.Setenv("MQTT_USERNAME", "user")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_PUBLISH_PREFIX", "robots/1")

	cfg, err := ParseConfig([]byte(sampleConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "mapper-1", cfg.MQTT.ClientID)
	assert.Equal(t, "user", cfg.MQTT.Username)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, "robots/1", cfg.MQTT.PublishPrefix)
}

func TestParseConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no sensors", "map: {resolution: 0.1}\n", "at least one sensor"},
		{"negative resolution", "map: {resolution: -1}\nsensors: [{id: a}]\n", "resolution must be positive"},
		{"positive miss", "map: {missLog: 0.2}\nsensors: [{id: a}]\n", "missLog must be negative"},
		{"negative hit", "map: {hitLog: -0.2}\nsensors: [{id: a}]\n", "hitLog must be positive"},
		{"clamp on one side", "map: {clampMinLog: 0.5}\nsensors: [{id: a}]\n", "straddle zero"},
		{"inverted bounds", "frontier: {bounds: {xMin: 2, xMax: 1}}\nsensors: [{id: a}]\n", "frontier.bounds"},
		{"missing id", "sensors: [{topic: t}]\n", "id is required"},
		{"duplicate id", "sensors: [{id: a}, {id: a}]\n", "duplicated"},
		{"negative range", "sensors: [{id: a, maxRange: -1}]\n", "maxRange"},
		{"negative rate", "sensors: [{id: a, maxUpdateRate: -2}]\n", "maxUpdateRate"},
		{"bad yaml", "sensors: [", "parsing config YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndSaveConfig(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigYAML), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	out := filepath.Join(dir, "saved.yaml")
	require.NoError(t, SaveConfig(out, cfg))
	again, err := LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	_, err = LoadConfig(filepath.Join(dir, "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	cfg := DefaultConfig()
	assert.Equal(t, DefaultMapConfig(), cfg.Map)
	assert.Equal(t, "frontiermap", cfg.MQTT.PublishPrefix)
	assert.Empty(t, cfg.Sensors)
}
