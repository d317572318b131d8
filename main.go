package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command-line flags.
type AppOptions struct {
	ConfigFile   string
	MqttMode     bool
	HttpMode     bool
	HttpPort     int
	ReplayDir    string
	InspectFile  string
	RenderFile   string
	RenderFormat string
	SliceZ       float64
}

// AppRunner is the set of modes main can dispatch to.
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunService() error
	RunReplay() error
	RunInspect() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("frontiermap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Consume point batches from MQTT and publish the frontier")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for the map and frontier")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.StringVar(&opts.ReplayDir, "replay", "", "Replay point batch files from a directory")
	fs.StringVar(&opts.InspectFile, "inspect", "", "Decode a point batch file, print a summary and exit")
	fs.StringVar(&opts.RenderFile, "render", "", "Write a rendering of the map to this file after --replay")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg, png, slice or geojson")
	fs.Float64Var(&opts.SliceZ, "slice-z", 0, "Height of the layer drawn by --format slice")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "frontiermap version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.InspectFile != "":
		return app.RunInspect()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.ReplayDir != "":
		return app.RunReplay()
	}

	_, _ = fmt.Fprintln(out, "frontiermap service starting...")
	_, _ = fmt.Fprintln(out, "Use --mqtt to consume point batches from MQTT")
	_, _ = fmt.Fprintln(out, "Use --http to serve the map and frontier over HTTP")
	_, _ = fmt.Fprintln(out, "Use --replay DIR to build a map from recorded batches")
	_, _ = fmt.Fprintln(out, "Use --replay DIR --render out.svg to render the result")
	_, _ = fmt.Fprintln(out, "Use --inspect FILE to decode a single batch")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - MQTT settings, map parameters and sensors")
	return nil
}
