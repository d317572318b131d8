package voxmap

import (
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken is an already completed mqtt.Token.
type MockToken struct {
	err  error
	done chan struct{}
}

// NewMockToken returns a completed token carrying err.
func NewMockToken(err error) *MockToken {
	done := make(chan struct{})
	close(done)
	return &MockToken{err: err, done: done}
}

func (t *MockToken) Wait() bool                     { return true }
func (t *MockToken) WaitTimeout(time.Duration) bool { return true }
func (t *MockToken) Done() <-chan struct{}          { return t.done }
func (t *MockToken) Error() error                   { return t.err }

// MockMessage is a message recorded by MockClient.Publish.
type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// mockFaults are the errors MockClient injects.
type mockFaults struct {
	connect   error
	publish   error
	subscribe error
	delay     time.Duration
}

// MockClient is an in-memory mqtt.Client. Subscriptions accept the MQTT
// wildcards + and #, and retained publishes are replayed to new
// subscribers the way a broker would.
type MockClient struct {
	mu        sync.RWMutex
	connected bool
	faults    mockFaults
	onConnect mqtt.OnConnectHandler
	subs      map[string]mqtt.MessageHandler // by topic filter
	published []MockMessage
	retained  map[string]MockMessage
}

// NewMockClient creates a disconnected mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		subs:     make(map[string]mqtt.MessageHandler),
		retained: make(map[string]MockMessage),
	}
}

func (c *MockClient) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// SetConnectError makes Connect fail with err.
func (c *MockClient) SetConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults.connect = err
}

// SetPublishError makes Publish fail with err.
func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults.publish = err
}

// SetSubscribeError makes Subscribe and SubscribeMultiple fail with err.
func (c *MockClient) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults.subscribe = err
}

// SetConnectDelay delays Connect to simulate network latency.
func (c *MockClient) SetConnectDelay(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults.delay = delay
}

// SetOnConnect registers a handler invoked after a successful Connect.
func (c *MockClient) SetOnConnect(h mqtt.OnConnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = h
}

// GetPublishedMessages returns every successful publish in order.
func (c *MockClient) GetPublishedMessages() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MockMessage(nil), c.published...)
}

// LastMessage returns the most recent message published on topic.
func (c *MockClient) LastMessage(topic string) (MockMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].Topic == topic {
			return c.published[i], true
		}
	}
	return MockMessage{}, false
}

// Retained returns the retained message held for topic.
func (c *MockClient) Retained(topic string) (MockMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.retained[topic]
	return m, ok
}

// SubscribedTopics returns the subscribed topic filters, sorted.
func (c *MockClient) SubscribedTopics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	return filters
}

// SimulateMessage delivers payload to every subscription matching topic.
func (c *MockClient) SimulateMessage(topic string, payload []byte) {
	c.deliver(&mockMessage{topic: topic, payload: payload})
}

func (c *MockClient) deliver(msg *mockMessage) {
	c.mu.RLock()
	var handlers []mqtt.MessageHandler
	for filter, h := range c.subs {
		if h != nil && topicMatches(filter, msg.topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(c, msg)
	}
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

// Connect marks the client connected and runs the OnConnect handler in a
// new goroutine, like paho does.
func (c *MockClient) Connect() mqtt.Token {
	c.mu.RLock()
	f := c.faults
	c.mu.RUnlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.connect != nil {
		return NewMockToken(f.connect)
	}

	c.mu.Lock()
	c.connected = true
	onConnect := c.onConnect
	c.mu.Unlock()

	if onConnect != nil {
		go onConnect(c)
	}
	return NewMockToken(nil)
}

func (c *MockClient) Disconnect(quiesce uint) {
	c.SetConnected(false)
}

// Publish records the message. A retained publish replaces the retained
// message of its topic; an empty retained payload clears it.
func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.faults.publish != nil {
		return NewMockToken(c.faults.publish)
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}

	msg := MockMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained}
	c.published = append(c.published, msg)
	if retained {
		if len(data) == 0 {
			delete(c.retained, topic)
		} else {
			c.retained[topic] = msg
		}
	}
	return NewMockToken(nil)
}

// Subscribe registers callback for filter and replays matching retained
// messages to it.
func (c *MockClient) Subscribe(filter string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{filter: qos}, callback)
}

func (c *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return NewMockToken(mqtt.ErrNotConnected)
	}
	if c.faults.subscribe != nil {
		err := c.faults.subscribe
		c.mu.Unlock()
		return NewMockToken(err)
	}

	var replay []*mockMessage
	for filter := range filters {
		c.subs[filter] = callback
		for topic, m := range c.retained {
			if topicMatches(filter, topic) {
				replay = append(replay, &mockMessage{topic: topic, payload: m.Payload, qos: m.QoS, retained: true})
			}
		}
	}
	c.mu.Unlock()

	if callback != nil {
		for _, m := range replay {
			callback(c, m)
		}
	}
	return NewMockToken(nil)
}

func (c *MockClient) Unsubscribe(filters ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range filters {
		delete(c.subs, f)
	}
	return NewMockToken(nil)
}

func (c *MockClient) AddRoute(filter string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[filter] = callback
}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// topicMatches reports whether topic matches an MQTT topic filter.
// + matches one level, a trailing # matches any remaining levels.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

// mockMessage implements mqtt.Message.
type mockMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return m.qos }
func (m *mockMessage) Retained() bool    { return m.retained }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}
