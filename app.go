package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/frontiermap/voxmap"
	"golang.org/x/sync/errgroup"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *voxmap.Config
	Mapper     *voxmap.Mapper
	Metrics    *voxmap.Metrics
	MQTTClient *voxmap.MQTTClient
	Publisher  *voxmap.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	ReplayDir    string
	InspectFile  string
	RenderFile   string
	RenderFormat string
	SliceZ       float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	out io.Writer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Metrics: voxmap.NewMetrics(),
		out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReplayDir = opts.ReplayDir
	a.InspectFile = opts.InspectFile
	a.RenderFile = opts.RenderFile
	a.RenderFormat = opts.RenderFormat
	a.SliceZ = opts.SliceZ
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// loadConfig loads the config file. When optional is set a missing file
// falls back to the default configuration.
func (a *App) loadConfig(optional bool) error {
	if optional {
		if _, err := os.Stat(a.ConfigFile); errors.Is(err, os.ErrNotExist) {
			log.Printf("No config at %s, using default map parameters", a.ConfigFile)
			a.Config = voxmap.DefaultConfig()
			return nil
		}
	}
	config, err := voxmap.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return nil
}

func (a *App) newMapper() {
	a.Mapper = voxmap.NewMapper(a.Config, voxmap.MapperOptions{
		Metrics:      a.Metrics,
		KeepFiltered: a.Config.Publish.Filtered,
	})
}

// RunInspect decodes a single batch file and prints a summary of it.
func (a *App) RunInspect() error {
	f, err := voxmap.DecodeFrameFile(a.InspectFile)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", a.InspectFile, err)
	}

	var invalid int
	labels := make(map[voxmap.Label]int)
	for i, p := range f.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) {
			invalid++
			continue
		}
		labels[f.Label(i)]++
	}
	rows, cols := f.Dims()

	a.printf("=== %s ===\n", filepath.Base(a.InspectFile))
	a.printf("Sensor: %s\n", f.SensorID)
	a.printf("Frame: %s\n", f.FrameID)
	if !f.Stamp.IsZero() {
		a.printf("Stamp: %s\n", f.Stamp.UTC().Format(time.RFC3339Nano))
	}
	a.printf("Origin: (%.3f, %.3f, %.3f)\n", f.Origin.X, f.Origin.Y, f.Origin.Z)
	a.printf("Size: %dx%d (%d points, %d invalid)\n", cols, rows, len(f.Points), invalid)
	a.printf("Labels: outside=%d inside=%d clip=%d\n",
		labels[voxmap.Outside], labels[voxmap.Inside], labels[voxmap.Clip])
	return nil
}

// RunReplay builds a map from the batch files in the replay directory and
// optionally renders the result.
func (a *App) RunReplay() error {
	if err := a.loadConfig(true); err != nil {
		return err
	}
	a.newMapper()

	start := time.Now()
	src := voxmap.ReplaySource(a.ReplayDir, voxmap.ReplayOptions{})
	if err := voxmap.RunSources(context.Background(), a.Mapper.HandleFrame, src); err != nil {
		return err
	}

	stats := a.Mapper.Map().Stats()
	a.printf("Replayed %s in %v\n", a.ReplayDir, time.Since(start).Round(time.Millisecond))
	a.printf("Map frame: %s\n", a.Mapper.MapFrame())
	a.printf("Map: %d nodes (%d occupied, %d free)\n", stats.Nodes, stats.Occupied, stats.Free)
	a.printf("Frontier: %d cells\n", a.Mapper.Frontier().Len())

	if a.RenderFile == "" {
		return nil
	}
	if err := a.render(a.RenderFile); err != nil {
		return err
	}
	a.printf("Saved %s rendering to %s\n", a.RenderFormat, a.RenderFile)
	return nil
}

// render writes the current map in the selected format.
func (a *App) render(path string) error {
	m, frontier := a.Mapper.Map(), a.Mapper.Frontier()

	if strings.ToLower(a.RenderFormat) == "slice" {
		return voxmap.NewSliceRenderer(m, frontier, a.SliceZ).SavePNG(path)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	switch strings.ToLower(a.RenderFormat) {
	case "", "svg":
		err = voxmap.NewTopDownRenderer(m, frontier).RenderToSVG(f)
	case "png":
		err = voxmap.NewTopDownRenderer(m, frontier).RenderToPNG(f)
	case "geojson":
		fc := voxmap.FrontierGeoJSON(m.Codec(), frontier.Snapshot(), a.Mapper.MapFrame())
		var data []byte
		if data, err = fc.MarshalJSON(); err == nil {
			_, err = f.Write(data)
		}
	default:
		err = fmt.Errorf("unknown render format %q", a.RenderFormat)
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() error {
	a.printf("Starting frontiermap service...\n")
	if err := a.loadConfig(false); err != nil {
		return err
	}
	a.newMapper()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

// serve runs the frame sources and the HTTP server until ctx is done or one
// of them fails.
func (a *App) serve(ctx context.Context) error {
	var sources []voxmap.FrameSource

	if a.MqttMode {
		// A preset client is used as is.
		if a.MQTTClient == nil {
			mqttClient, err := voxmap.InitMQTT(a.Config, nil)
			if err != nil {
				return fmt.Errorf("failed to initialize MQTT: %w", err)
			}
			if mqttClient == nil {
				return errors.New("MQTT broker not configured in config.yaml")
			}
			a.MQTTClient = mqttClient
		}
		sources = append(sources, a.MQTTClient.Source())
		a.attachPublisher(a.MQTTClient.GetClient())
	}

	for _, sc := range a.Config.Sensors {
		if sc.ApiURL != nil && *sc.ApiURL != "" {
			sources = append(sources, voxmap.PollSource(sc))
		}
	}
	if a.ReplayDir != "" {
		sources = append(sources, voxmap.ReplaySource(a.ReplayDir, voxmap.ReplayOptions{}))
	}

	g, ctx := errgroup.WithContext(ctx)
	if len(sources) > 0 {
		g.Go(func() error {
			return voxmap.RunSources(ctx, a.Mapper.HandleFrame, sources...)
		})
	}

	if a.HttpMode {
		srv := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Mapper, a.Metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Printf("[HTTP] Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.printServiceInfo()

	err := g.Wait()
	a.printf("\nShutting down service...\n")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	a.printf("Service stopped\n")
	return err
}

// attachPublisher publishes the frontier and frame stats through client
// after every processed frame.
func (a *App) attachPublisher(client mqtt.Client) {
	a.Publisher = voxmap.NewPublisher(client, a.Config.MQTT.PublishPrefix)
	a.Publisher.SetMetrics(a.Metrics)
	a.Mapper.OnFrame(a.Publisher.FrameListener(a.Mapper, a.Config.Publish))
	a.printf("MQTT frontier publisher initialized\n")
}

func (a *App) printServiceInfo() {
	a.printf("\nService Running\n")
	a.printf("===============\n")

	if a.MqttMode {
		a.printf("\nMQTT:\n")
		a.printf("  Subscribed topics:\n")
		for _, sc := range a.Config.Sensors {
			if sc.Topic != "" {
				a.printf("    - %s (%s)\n", sc.Topic, sc.ID)
			}
		}
		if a.Publisher != nil {
			a.printf("  Publishing to: %s/{frontier,stats,map}\n", a.Publisher.Prefix())
		}
	}

	if a.HttpMode {
		a.printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		a.printf("  GET /health            - Health check\n")
		a.printf("  GET /stats             - Last frame report\n")
		a.printf("  GET /frontier.json     - Frontier voxel centers\n")
		a.printf("  GET /frontier.geojson  - Frontier clusters as GeoJSON\n")
		a.printf("  GET /frontier.svg      - Top-down map with frontier\n")
		a.printf("  GET /slice.png?z=      - Horizontal slice of the map\n")
		a.printf("  GET /map.bin           - Binary map snapshot\n")
		a.printf("  GET /metrics           - Prometheus metrics\n")
		a.printf("  POST /reset            - Clear map and frontier\n")
	}

	a.printf("\nPress Ctrl+C to stop\n")
}
