package voxmap

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/tdewolff/canvas"
)

func TestTopDownRenderer_RenderToSVG(t *testing.T) {
	m, fs := renderFixture(t)
	r := NewTopDownRenderer(m, fs)

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("Failed to render to SVG: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("Output does not contain <svg tag")
	}
	if !bytes.Contains(buf.Bytes(), []byte("path")) {
		t.Errorf("Output does not contain path elements")
	}
}

func TestTopDownRenderer_RenderToPNG(t *testing.T) {
	m, fs := renderFixture(t)
	r := NewTopDownRenderer(m, fs)
	r.Resolution = canvas.DPMM(1)

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("Failed to render to PNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}

	p := r.project()
	w, h := r.size(p)
	if got := img.Bounds().Dx(); got < int(w)-1 || got > int(w)+1 {
		t.Errorf("PNG width = %d, want about %.0f", got, w)
	}
	if got := img.Bounds().Dy(); got < int(h)-1 || got > int(h)+1 {
		t.Errorf("PNG height = %d, want about %.0f", got, h)
	}
}

func TestTopDownRenderer_Project(t *testing.T) {
	m, fs := renderFixture(t)
	r := NewTopDownRenderer(m, fs)

	p := r.project()
	if len(p.occupied) != 3 {
		t.Errorf("occupied columns = %d, want 3", len(p.occupied))
	}
	if len(p.frontier) == 0 {
		t.Error("expected frontier columns")
	}
	if p.minX != -10 || p.maxX != 10 || p.minY != -10 || p.maxY != 10 {
		t.Errorf("extent = [%d,%d]x[%d,%d], want [-10,10]x[-10,10]", p.minX, p.maxX, p.minY, p.maxY)
	}
}

func TestTopDownRenderer_EmptyMap(t *testing.T) {
	r := NewTopDownRenderer(newTestMap(0.1), NewFrontierSet())
	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("empty map render failed: %v", err)
	}
}

func TestFloorTo(t *testing.T) {
	tests := []struct{ v, step, want int32 }{
		{0, 10, 0},
		{15, 10, 10},
		{-1, 10, -10},
		{-10, 10, -10},
	}
	for _, tt := range tests {
		if got := floorTo(tt.v, tt.step); got != tt.want {
			t.Errorf("floorTo(%d, %d) = %d, want %d", tt.v, tt.step, got, tt.want)
		}
	}
}
