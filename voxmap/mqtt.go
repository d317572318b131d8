package voxmap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is called for every point batch received over MQTT.
// frame is nil when err is set.
type MessageHandler func(sensorID string, frame *Frame, err error)

// MQTTClient owns the broker connection and routes batches arriving on the
// sensor topics to a MessageHandler.
type MQTTClient struct {
	client mqtt.Client
	config *Config

	mu        sync.RWMutex
	handler   MessageHandler
	connected bool

	stopConnect context.CancelFunc // ends the initial connect loop
}

const (
	defaultClientID = "frontiermap"
	connectTimeout  = 10 * time.Second
	subscribeWait   = 5 * time.Second
	quiesceMillis   = 250
)

var connectBackoff = backoff{base: time.Second, max: time.Minute}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT builds the shared client and starts connecting in the
// background. It returns nil, nil when no broker is configured in either
// config or MQTT_BROKER.
func InitMQTT(config *Config, handler MessageHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	var settings MQTTConfig
	if config != nil {
		settings = config.MQTT
	}
	settings.overlayEnv()
	if settings.Broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}
	if config == nil || len(config.Sensors) == 0 {
		return nil, fmt.Errorf("MQTT broker %s configured but no sensors to subscribe", settings.Broker)
	}

	c := NewMQTTClientWithClient(nil, config, handler)
	c.client = mqtt.NewClient(c.clientOptions(settings))

	ctx, cancel := context.WithCancel(context.Background())
	c.stopConnect = cancel
	go c.connectLoop(ctx, settings.Broker)

	globalClient = c
	return c, nil
}

// clientOptions translates settings into paho options with this client's
// lifecycle callbacks attached.
func (c *MQTTClient) clientOptions(settings MQTTConfig) *mqtt.ClientOptions {
	id := settings.ClientID
	if id == "" {
		id = defaultClientID
	}

	opts := mqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(id).
		SetKeepAlive(time.Minute).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(connectBackoff.max).
		// Persistent session: the broker keeps our subscriptions while we
		// are away.
		SetCleanSession(false).
		// Batches of one topic reach the mapper in arrival order.
		SetOrderMatters(true).
		SetOnConnectHandler(c.OnConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(c.onReconnecting)

	if settings.Username != "" {
		opts.SetUsername(settings.Username).SetPassword(settings.Password)
	}
	return opts
}

// GetMQTTClient returns the client created by InitMQTT, or nil.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectLoop retries the first connection until it succeeds or ctx ends.
// Later drops are handled by paho's auto-reconnect.
func (c *MQTTClient) connectLoop(ctx context.Context, broker string) {
	for attempt := 1; ; attempt++ {
		log.Printf("Connecting to MQTT broker %s (attempt %d)", broker, attempt)

		tok := c.client.Connect()
		switch {
		case !tok.WaitTimeout(connectTimeout):
			log.Printf("MQTT connect to %s timed out after %v", broker, connectTimeout)
		case tok.Error() != nil:
			log.Printf("MQTT connect to %s failed: %v", broker, tok.Error())
		default:
			log.Printf("Connected to MQTT broker %s", broker)
			c.setConnected(true)
			return
		}

		wait := connectBackoff.delay(attempt)
		log.Printf("Next MQTT connect attempt in %v", wait)
		if sleepCtx(ctx, wait) != nil {
			return
		}
	}
}

// OnConnect subscribes to every sensor topic in one request. InitMQTT
// registers it with paho; callers wrapping their own client invoke it after
// connecting.
func (c *MQTTClient) OnConnect(client mqtt.Client) {
	c.setConnected(true)

	filters := make(map[string]byte)
	for _, s := range c.config.Sensors {
		if s.Topic != "" {
			filters[s.Topic] = 0
		}
	}
	if len(filters) == 0 {
		log.Println("MQTT connected; no sensor topics to subscribe")
		return
	}

	tok := client.SubscribeMultiple(filters, c.dispatch)
	if !tok.WaitTimeout(subscribeWait) {
		log.Printf("MQTT subscribe to %d topics still pending after %v", len(filters), subscribeWait)
		return
	}
	if err := tok.Error(); err != nil {
		log.Printf("MQTT subscribe failed: %v", err)
		return
	}
	log.Printf("MQTT connected, subscribed to %d sensor topics", len(filters))
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	log.Printf("MQTT connection lost: %v", err)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting")
}

// dispatch is the subscription callback for all sensor topics.
func (c *MQTTClient) dispatch(_ mqtt.Client, msg mqtt.Message) {
	sensorID, ok := c.GetSensorByTopic(msg.Topic())
	if !ok {
		log.Printf("Dropping MQTT message on unmapped topic %s", msg.Topic())
		return
	}
	c.deliver(sensorID, msg)
}

// deliver decodes one batch and hands it to the current handler. The sensor
// id always comes from the topic, never from the payload.
func (c *MQTTClient) deliver(sensorID string, msg mqtt.Message) {
	h := c.currentHandler()

	frame, err := DecodeFrame(msg.Payload())
	if err != nil {
		log.Printf("Bad point batch from %s on %s (%d bytes): %v",
			sensorID, msg.Topic(), len(msg.Payload()), err)
		if h != nil {
			h(sensorID, nil, err)
		}
		return
	}
	frame.SensorID = sensorID
	if h != nil {
		h(sensorID, frame, nil)
	}
}

// SetMessageHandler replaces the handler for received batches.
func (c *MQTTClient) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *MQTTClient) currentHandler() MessageHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// Source returns a FrameSource that emits every decoded batch until ctx is
// done, then disconnects. Decode failures are only logged.
func (c *MQTTClient) Source() FrameSource {
	return func(ctx context.Context, emit FrameHandler) error {
		c.SetMessageHandler(func(_ string, frame *Frame, err error) {
			if err == nil {
				emit(frame)
			}
		})
		<-ctx.Done()
		c.SetMessageHandler(nil)
		c.Disconnect()
		return nil
	}
}

func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MQTTClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// Disconnect stops any pending connect loop and closes the connection.
func (c *MQTTClient) Disconnect() {
	if c.stopConnect != nil {
		c.stopConnect()
	}
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	log.Println("Disconnecting from MQTT broker")
	c.client.Disconnect(quiesceMillis)
	c.setConnected(false)
}

// GetSensorByTopic returns the first sensor, in config order, whose topic
// filter matches topic. Filters may use the + and # wildcards.
func (c *MQTTClient) GetSensorByTopic(topic string) (string, bool) {
	for _, s := range c.config.Sensors {
		if s.Topic != "" && topicMatches(s.Topic, topic) {
			return s.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying paho client, for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithClient wraps an existing mqtt.Client such as MockClient.
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler MessageHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
}
