package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }
func (m *mockApp) RunReplay() error             { m.called["RunReplay"] = true; return m.err }
func (m *mockApp) RunInspect() error            { m.called["RunInspect"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Inspect",
			args:           []string{"--inspect", "batch.json"},
			expectedCalled: "RunInspect",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.InspectFile != "batch.json" {
					t.Errorf("expected InspectFile batch.json, got %s", opts.InspectFile)
				}
			},
		},
		{
			name:           "Replay",
			args:           []string{"--replay", "/tmp/bag", "--render", "out.png", "--format", "png"},
			expectedCalled: "RunReplay",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ReplayDir != "/tmp/bag" {
					t.Errorf("expected ReplayDir /tmp/bag, got %s", opts.ReplayDir)
				}
				if opts.RenderFile != "out.png" {
					t.Errorf("expected RenderFile out.png, got %s", opts.RenderFile)
				}
				if opts.RenderFormat != "png" {
					t.Errorf("expected RenderFormat png, got %s", opts.RenderFormat)
				}
			},
		},
		{
			name:           "SliceRender",
			args:           []string{"--replay", "bag", "--render", "s.png", "--format", "slice", "--slice-z", "1.25"},
			expectedCalled: "RunReplay",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.SliceZ != 1.25 {
					t.Errorf("expected SliceZ 1.25, got %f", opts.SliceZ)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090", "--config", "c.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.ConfigFile != "c.yaml" {
					t.Errorf("expected ConfigFile c.yaml, got %s", opts.ConfigFile)
				}
			},
		},
		{
			name:           "HttpWithReplay",
			args:           []string{"--http", "--replay", "bag"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode || opts.ReplayDir != "bag" {
					t.Errorf("unexpected options %+v", opts)
				}
			},
		},
		{
			name:           "Defaults",
			args:           []string{"--http"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "config.yaml" {
					t.Errorf("expected default config.yaml, got %s", opts.ConfigFile)
				}
				if opts.HttpPort != 8080 {
					t.Errorf("expected default port 8080, got %d", opts.HttpPort)
				}
				if opts.RenderFormat != "svg" {
					t.Errorf("expected default format svg, got %s", opts.RenderFormat)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_PropagatesError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--replay", "x"}, &out, app); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of frontiermap") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-replay") {
		t.Errorf("expected -replay flag in usage, got: %s", out.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--calibrate"}, &out, app); err == nil {
		t.Error("expected error for unknown flag")
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run, got %v", app.called)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "frontiermap version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}

	if !strings.Contains(out.String(), "frontiermap service starting...") {
		t.Errorf("expected output to contain service starting message, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run by default, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
