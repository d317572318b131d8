package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kwv/frontiermap/voxmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// TestMQTTServiceConfigLoading tests configuration loading for MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			configYAML:  testConfigYAML,
			shouldError: false,
		},
		{
			name: "no sensors defined",
			configYAML: `mqtt:
  broker: "mqtt://localhost:1883"

sensors: []
`,
			shouldError: true,
			errorMsg:    "at least one sensor must be defined",
		},
		{
			name: "sensor missing ID",
			configYAML: `sensors:
  - topic: "test/front/points"
`,
			shouldError: true,
			errorMsg:    "id is required",
		},
		{
			name: "duplicate sensor",
			configYAML: `sensors:
  - id: front
    topic: "a"
  - id: front
    topic: "b"
`,
			shouldError: true,
			errorMsg:    "duplicated",
		},
		{
			name: "negative resolution",
			configYAML: `map:
  resolution: -1
sensors:
  - id: front
    topic: "a"
`,
			shouldError: true,
			errorMsg:    "resolution must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary config file
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}

			config, err := voxmap.LoadConfig(configPath)

			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error containing '%s', got nil", tt.errorMsg)
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got: %v", tt.errorMsg, err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				if config == nil {
					t.Error("Expected config to be non-nil")
				}
			}
		})
	}
}

// startMockService runs the service with a mock broker connection and
// returns the mock, the app and a stop function.
func startMockService(t *testing.T) (*voxmap.MockClient, *App, func()) {
	t.Helper()

	app, _ := newTestApp()
	app.ConfigFile = writeTestConfig(t)
	require.NoError(t, app.loadConfig(false))
	app.newMapper()
	app.MqttMode = true

	mock := voxmap.NewMockClient()
	app.MQTTClient = voxmap.NewMQTTClientWithClient(mock, app.Config, nil)
	mock.SetOnConnect(app.MQTTClient.OnConnect)
	require.NoError(t, mock.Connect().Error())
	require.Eventually(t, func() bool {
		return len(mock.SubscribedTopics()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("service did not stop")
		}
	}
	return mock, app, stop
}

// TestMQTTServicePipeline feeds a batch through the broker and checks the
// published frontier and stats.
func TestMQTTServicePipeline(t *testing.T) {
	mock, app, stop := startMockService(t)

	payload, err := voxmap.EncodeFrameJSON(testFrame("", r3.Vec{X: 1, Z: 0.05}))
	require.NoError(t, err)

	// The source installs its handler asynchronously; resend until it lands.
	require.Eventually(t, func() bool {
		mock.SimulateMessage("test/front/points", payload)
		_, ok := app.Mapper.LastReport()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	report, _ := app.Mapper.LastReport()
	assert.Equal(t, "front", report.SensorID, "sensor id comes from the topic")

	msg, ok := mock.LastMessage("frontiermap-test/frontier")
	require.True(t, ok, "frontier was not published")
	var frontier voxmap.FrontierMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &frontier))
	assert.Equal(t, app.Mapper.Frontier().Len(), frontier.Count)
	assert.Equal(t, "world", frontier.Frame)
	assert.True(t, msg.Retain)

	_, ok = mock.LastMessage("frontiermap-test/stats")
	assert.True(t, ok, "stats were not published")

	stop()
	assert.False(t, mock.IsConnected(), "service disconnects on shutdown")
}

// TestMQTTServiceIgnoresGarbage checks that undecodable payloads neither
// reach the mapper nor trigger a publish.
func TestMQTTServiceIgnoresGarbage(t *testing.T) {
	mock, app, stop := startMockService(t)
	defer stop()

	for range 5 {
		mock.SimulateMessage("test/front/points", []byte("not a batch"))
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := app.Mapper.LastReport(); ok {
		t.Error("garbage payload produced a frame report")
	}
	if n := len(mock.GetPublishedMessages()); n != 0 {
		t.Errorf("expected no publishes, got %d", n)
	}
}

// TestMQTTServicePublishFailure counts publish errors without stopping the
// service.
func TestMQTTServicePublishFailure(t *testing.T) {
	mock, app, stop := startMockService(t)
	defer stop()
	mock.SetPublishError(assert.AnError)

	payload, err := voxmap.EncodeFrameJSON(testFrame("", r3.Vec{Y: 1}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mock.SimulateMessage("test/front/points", payload)
		_, ok := app.Mapper.LastReport()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, mock.GetPublishedMessages())
	assert.Positive(t, app.Mapper.Map().Len(), "the map is updated even when publishing fails")
}
