package voxmap

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := &Config{
		Sensors: []SensorConfig{
			{ID: "test", Topic: "test/topic"},
		},
	}

	client, err := InitMQTT(config, func(string, *Frame, error) {})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoSensors(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := &Config{
		MQTT: MQTTConfig{
			Broker: "mqtt://localhost:1883",
		},
		Sensors: []SensorConfig{},
	}

	_, err := InitMQTT(config, func(string, *Frame, error) {})
	assert.Error(t, err)
}

// InitMQTT connects in the background and must not block the caller.
func TestInitMQTT_ReturnsImmediately(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	config := &Config{
		MQTT: MQTTConfig{
			Broker: "mqtt://localhost:1883",
		},
		Sensors: []SensorConfig{
			{ID: "test", Topic: "test/topic"},
		},
	}

	start := time.Now()
	client, err := InitMQTT(config, func(string, *Frame, error) {})
	duration := time.Since(start)

	if err != nil {
		t.Errorf("InitMQTT() error = %v, should not error (connects in background)", err)
	}
	if duration > 100*time.Millisecond {
		t.Errorf("InitMQTT() took %v, should return immediately", duration)
	}
	if client != nil {
		assert.Same(t, client, GetMQTTClient())
		client.Disconnect()
	}
}

func TestGetMQTTClient_NotInitialized(t *testing.T) {
	clientMu.Lock()
	globalClient = nil
	clientMu.Unlock()

	if client := GetMQTTClient(); client != nil {
		t.Error("GetMQTTClient() should return nil when not initialized")
	}
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_GetSensorByTopic(t *testing.T) {
	config := &Config{
		Sensors: []SensorConfig{
			{ID: "front", Topic: "robot/front/points"},
			{ID: "depth", Topic: "robot/depth/points"},
			{ID: "poll"},
		},
	}
	client := &MQTTClient{config: config}

	tests := []struct {
		name   string
		topic  string
		wantID string
		wantOK bool
	}{
		{"front topic", "robot/front/points", "front", true},
		{"depth topic", "robot/depth/points", "depth", true},
		{"unknown topic", "unknown/topic", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotOK := client.GetSensorByTopic(tt.topic)
			assert.Equal(t, tt.wantID, gotID)
			assert.Equal(t, tt.wantOK, gotOK)
		})
	}
}

func TestMQTTClient_ConcurrentAccess(t *testing.T) {
	client := &MQTTClient{}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				client.setConnected(j%2 == 0)
				_ = client.IsConnected()
				client.SetMessageHandler(func(string, *Frame, error) {})
			}
		}()
	}
	wg.Wait()
}

func TestMQTTDisconnect_NilClient(t *testing.T) {
	client := &MQTTClient{connected: true}
	// Should not panic with nil mqtt.Client
	client.Disconnect()
}

func TestOnConnect_SubscribesSensorTopics(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	config := &Config{
		Sensors: []SensorConfig{
			{ID: "front", Topic: "robot/front/points"},
			{ID: "rear", Topic: "robot/rear/points"},
			{ID: "http-only"},
		},
	}
	client := NewMQTTClientWithClient(mock, config, nil)
	client.OnConnect(mock)

	assert.True(t, client.IsConnected())
	assert.Equal(t, []string{"robot/front/points", "robot/rear/points"}, mock.SubscribedTopics())
}

func TestOnConnect_SubscribeError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(assert.AnError)

	config := &Config{Sensors: []SensorConfig{{ID: "front", Topic: "robot/front/points"}}}
	client := NewMQTTClientWithClient(mock, config, nil)

	// Logged, not fatal.
	client.OnConnect(mock)
	assert.Empty(t, mock.SubscribedTopics())
}

func TestOnConnectionLost(t *testing.T) {
	mock := NewMockClient()
	client := NewMQTTClientWithClient(mock, &Config{}, nil)
	client.setConnected(true)

	client.onConnectionLost(mock, assert.AnError)
	assert.False(t, client.IsConnected())
	client.onReconnecting(mock, nil)
}

func TestMessageHandler_DecodesBatch(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	config := &Config{Sensors: []SensorConfig{{ID: "front", Topic: "robot/front/points"}}}

	var gotID string
	var gotFrame *Frame
	var gotErr error
	client := NewMQTTClientWithClient(mock, config, func(id string, f *Frame, err error) {
		gotID, gotFrame, gotErr = id, f, err
	})
	client.OnConnect(mock)

	payload, err := EncodeFrameBinary(flatFrame("", r3.Vec{}, []r3.Vec{{X: 1}}, nil))
	require.NoError(t, err)
	mock.SimulateMessage("robot/front/points", payload)

	require.NoError(t, gotErr)
	assert.Equal(t, "front", gotID)
	require.NotNil(t, gotFrame)
	assert.Equal(t, "front", gotFrame.SensorID, "sensor id comes from the topic")
	assert.Equal(t, "world", gotFrame.FrameID)
}

func TestMessageHandler_InvalidPayload(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var calls int
	var gotErr error
	client := NewMQTTClientWithClient(mock, &Config{}, func(_ string, f *Frame, err error) {
		calls++
		gotErr = err
		assert.Nil(t, f)
	})
	mock.Subscribe("robot/front/points", 0, func(_ mqtt.Client, msg mqtt.Message) {
		client.deliver("front", msg)
	})

	mock.SimulateMessage("robot/front/points", []byte("garbage"))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, gotErr, ErrUnknownFormat)

	// No handler set: nothing to call, nothing panics.
	client.SetMessageHandler(nil)
	mock.SimulateMessage("robot/front/points", []byte("garbage"))
	assert.Equal(t, 1, calls)
}

func TestMQTTClient_Source(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	config := &Config{Sensors: []SensorConfig{{ID: "front", Topic: "robot/front/points"}}}
	client := NewMQTTClientWithClient(mock, config, nil)
	client.OnConnect(mock)

	frames := make(chan *Frame, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Source()(ctx, func(f *Frame) { frames <- f })
	}()

	payload, err := EncodeFrameJSON(flatFrame("", r3.Vec{}, []r3.Vec{{X: 1}}, nil))
	require.NoError(t, err)

	// The source installs its handler asynchronously.
	require.Eventually(t, func() bool {
		mock.SimulateMessage("robot/front/points", payload)
		return len(frames) > 0
	}, time.Second, 10*time.Millisecond)

	f := <-frames
	assert.Equal(t, "front", f.SensorID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("source did not stop after cancel")
	}
	assert.False(t, mock.IsConnected(), "source disconnects on shutdown")
}

func TestMQTTClient_WildcardTopic(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	config := &Config{Sensors: []SensorConfig{
		{ID: "fleet", Topic: "robots/+/points"},
		{ID: "late", Topic: "robots/r2/points"},
	}}
	var got []string
	client := NewMQTTClientWithClient(mock, config, func(id string, f *Frame, err error) {
		require.NoError(t, err)
		got = append(got, id)
	})
	client.OnConnect(mock)

	payload, err := EncodeFrameJSON(flatFrame("", r3.Vec{}, []r3.Vec{{X: 1}}, nil))
	require.NoError(t, err)
	mock.SimulateMessage("robots/r1/points", payload)
	mock.SimulateMessage("robots/r1/status", payload)

	// Both filters match r2; the mock delivers once per filter and the
	// first sensor in config order wins each time.
	mock.SimulateMessage("robots/r2/points", payload)
	assert.Equal(t, []string{"fleet", "fleet", "fleet"}, got)
}

func TestMQTTClient_ClientOptions(t *testing.T) {
	client := NewMQTTClientWithClient(nil, &Config{}, nil)

	opts := client.clientOptions(MQTTConfig{Broker: "tcp://broker:1883", Username: "u", Password: "p"})
	r := mqtt.NewOptionsReader(opts)
	assert.Equal(t, defaultClientID, r.ClientID())
	assert.Equal(t, "u", r.Username())
	assert.Equal(t, "p", r.Password())
	assert.False(t, r.CleanSession())
	assert.True(t, r.Order())
	require.Len(t, r.Servers(), 1)
	assert.Equal(t, "broker:1883", r.Servers()[0].Host)

	r = mqtt.NewOptionsReader(client.clientOptions(MQTTConfig{Broker: "tcp://b:1883", ClientID: "robot-7"}))
	assert.Equal(t, "robot-7", r.ClientID())
	assert.Empty(t, r.Username())
}

func TestMQTTClient_DisconnectStopsConnectLoop(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnectError(assert.AnError)
	client := NewMQTTClientWithClient(mock, &Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	client.stopConnect = cancel
	done := make(chan struct{})
	go func() {
		client.connectLoop(ctx, "tcp://unreachable:1883")
		close(done)
	}()

	client.Disconnect()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connect loop kept retrying after Disconnect")
	}
	assert.False(t, client.IsConnected())
}

func BenchmarkDispatch(b *testing.B) {
	client := NewMQTTClientWithClient(nil,
		&Config{Sensors: []SensorConfig{{ID: "front", Topic: "robot/+/points"}}},
		func(string, *Frame, error) {})
	payload, _ := EncodeFrameBinary(flatFrame("", r3.Vec{}, []r3.Vec{{X: 1}}, nil))
	msg := &mockMessage{topic: "robot/front/points", payload: payload}
	for b.Loop() {
		client.dispatch(nil, msg)
	}
}
