package voxmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
)

// FrontierMessage is the JSON payload published on {prefix}/frontier.
type FrontierMessage struct {
	Session    string       `json:"session"`
	Seq        uint64       `json:"seq"`
	Timestamp  int64        `json:"timestamp"`
	Frame      string       `json:"frame"`
	Resolution float64      `json:"resolution"`
	Count      int          `json:"count"`
	Cells      [][3]float64 `json:"cells"`
}

// StatsMessage is the JSON payload published on {prefix}/stats.
type StatsMessage struct {
	Session   string      `json:"session"`
	Seq       uint64      `json:"seq"`
	Timestamp int64       `json:"timestamp"`
	Report    FrameReport `json:"report"`
}

// Publisher publishes frontier, map and statistics messages to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	session       string
	metrics       *Metrics
	seq           uint64
	mu            sync.Mutex
}

// NewPublisher creates a publisher. An empty prefix falls back to
// MQTT_PUBLISH_PREFIX, then "frontiermap". If client is nil, publishing
// is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = "frontiermap"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget, the next frame supersedes
		retain:        true, // late subscribers get the latest state
		session:       uuid.NewString(),
	}
}

// Session identifies this process run; it changes on every restart.
func (p *Publisher) Session() string { return p.session }

// Prefix returns the topic prefix.
func (p *Publisher) Prefix() string { return p.publishPrefix }

// SetMetrics attaches a metrics set for publish failures.
func (p *Publisher) SetMetrics(m *Metrics) { p.metrics = m }

func (p *Publisher) nextSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// PublishFrontier publishes the voxel centers of the frontier set.
func (p *Publisher) PublishFrontier(frame string, codec KeyCodec, centers []r3.Vec) error {
	msg := FrontierMessage{
		Session:    p.session,
		Seq:        p.nextSeq(),
		Timestamp:  time.Now().Unix(),
		Frame:      frame,
		Resolution: codec.Resolution(),
		Count:      len(centers),
		Cells:      make([][3]float64, len(centers)),
	}
	for i, c := range centers {
		msg.Cells[i] = [3]float64{c.X, c.Y, c.Z}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling frontier: %w", err)
	}
	return p.publish("frontier", payload)
}

// PublishStats publishes a frame report.
func (p *Publisher) PublishStats(report FrameReport) error {
	payload, err := json.Marshal(StatsMessage{
		Session:   p.session,
		Seq:       p.nextSeq(),
		Timestamp: time.Now().Unix(),
		Report:    report,
	})
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	return p.publish("stats", payload)
}

// PublishMap publishes a compressed snapshot of the occupancy map.
func (p *Publisher) PublishMap(m *OccupancyMap) error {
	var buf bytes.Buffer
	if err := WriteMap(&buf, m.Codec(), m.Enumerate()); err != nil {
		return err
	}
	return p.publish("map", buf.Bytes())
}

// PublishFiltered republishes the outside points a frame contributed.
func (p *Publisher) PublishFiltered(f *Frame, points []r3.Vec) error {
	payload, err := EncodeFrameJSON(&Frame{
		SensorID: f.SensorID,
		FrameID:  f.FrameID,
		Stamp:    f.Stamp,
		Origin:   f.Origin,
		Points:   points,
	})
	if err != nil {
		return fmt.Errorf("marshaling filtered points: %w", err)
	}
	return p.publish("filtered/"+f.SensorID, payload)
}

func (p *Publisher) publish(suffix string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, suffix)

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		p.metrics.ObservePublishError(suffix)
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// FrameListener returns a listener publishing the frontier and stats after
// every frame, the map every cfg.MapEvery frames and, when enabled, the
// filtered points.
func (p *Publisher) FrameListener(mp *Mapper, cfg PublishConfig) FrameListener {
	var frames int
	return func(report FrameReport, f *Frame) {
		frames++
		if err := p.PublishFrontier(mp.MapFrame(), mp.Map().Codec(), mp.Frontier().Centers(mp.Map().Codec())); err != nil {
			log.Printf("Error publishing frontier: %v", err)
		}
		if err := p.PublishStats(report); err != nil {
			log.Printf("Error publishing stats: %v", err)
		}
		if cfg.MapEvery > 0 && frames%cfg.MapEvery == 0 {
			if err := p.PublishMap(mp.Map()); err != nil {
				log.Printf("Error publishing map: %v", err)
			}
		}
		if cfg.Filtered && len(report.Integration.Filtered) > 0 {
			if err := p.PublishFiltered(f, report.Integration.Filtered); err != nil {
				log.Printf("Error publishing filtered points for %s: %v", f.SensorID, err)
			}
		}
	}
}
