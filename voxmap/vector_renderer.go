package voxmap

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// TopDownRenderer draws the map projected onto the XY plane as vector
// graphics. A column is occupied if any voxel in it is occupied, free if it
// only holds free voxels. Frontier cells are drawn as dots on top.
type TopDownRenderer struct {
	Map        *OccupancyMap
	Frontier   *FrontierSet
	CellSize   float64 // canvas units (mm) per voxel
	Padding    float64 // canvas units
	GridEvery  int     // grid line every N voxels, 0 disables
	Resolution canvas.Resolution
}

// NewTopDownRenderer creates a renderer with default settings.
func NewTopDownRenderer(m *OccupancyMap, frontier *FrontierSet) *TopDownRenderer {
	return &TopDownRenderer{
		Map:        m,
		Frontier:   frontier,
		CellSize:   2.0,
		Padding:    10.0,
		GridEvery:  10,
		Resolution: canvas.DPI(150),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

type column struct {
	X, Y int32
}

type projection struct {
	free, occupied []column
	frontier       []column
	minX, minY     int32
	maxX, maxY     int32
}

func (r *TopDownRenderer) project() projection {
	state := make(map[column]bool) // true when occupied
	for _, n := range r.Map.Enumerate() {
		c := column{n.Key.X, n.Key.Y}
		state[c] = state[c] || n.LogOdds > occupancyThreshold
	}

	var p projection
	first := true
	extend := func(c column) {
		if first {
			p.minX, p.maxX, p.minY, p.maxY = c.X, c.X, c.Y, c.Y
			first = false
			return
		}
		p.minX, p.maxX = min(p.minX, c.X), max(p.maxX, c.X)
		p.minY, p.maxY = min(p.minY, c.Y), max(p.maxY, c.Y)
	}
	for c, occ := range state {
		extend(c)
		if occ {
			p.occupied = append(p.occupied, c)
		} else {
			p.free = append(p.free, c)
		}
	}
	if r.Frontier != nil {
		seen := make(map[column]bool)
		for _, k := range r.Frontier.Snapshot() {
			c := column{k.X, k.Y}
			if seen[c] {
				continue
			}
			seen[c] = true
			extend(c)
			p.frontier = append(p.frontier, c)
		}
	}
	return p
}

func (r *TopDownRenderer) size(p projection) (float64, float64) {
	cols := float64(p.maxX-p.minX) + 1
	rows := float64(p.maxY-p.minY) + 1
	return cols*r.CellSize + 2*r.Padding, rows*r.CellSize + 2*r.Padding
}

// RenderToSVG writes the projection as an SVG to the provided writer
func (r *TopDownRenderer) RenderToSVG(w io.Writer) error {
	p := r.project()
	width, height := r.size(p)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, p, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the projection as a PNG to the provided writer
func (r *TopDownRenderer) RenderToPNG(w io.Writer) error {
	p := r.project()
	width, height := r.size(p)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, p, width, height)
	return png.Encode(w, rast)
}

func (r *TopDownRenderer) renderToCanvas(renderer canvasRenderer, p projection, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// canvas Y grows upwards like map Y
	toCanvas := func(c column) (float64, float64) {
		return float64(c.X-p.minX)*r.CellSize + r.Padding, float64(c.Y-p.minY)*r.CellSize + r.Padding
	}
	cells := func(cols []column) *canvas.Path {
		path := &canvas.Path{}
		for _, c := range cols {
			x, y := toCanvas(c)
			path.MoveTo(x, y)
			path.LineTo(x+r.CellSize, y)
			path.LineTo(x+r.CellSize, y+r.CellSize)
			path.LineTo(x, y+r.CellSize)
			path.Close()
		}
		return path
	}

	freeStyle := canvas.DefaultStyle
	freeStyle.Fill = canvas.Paint{Color: color.RGBA{200, 220, 240, 255}}
	freeStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	if len(p.free) > 0 {
		renderer.RenderPath(cells(p.free), freeStyle, canvas.Identity)
	}

	occStyle := canvas.DefaultStyle
	occStyle.Fill = canvas.Paint{Color: canvas.Black}
	occStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	if len(p.occupied) > 0 {
		renderer.RenderPath(cells(p.occupied), occStyle, canvas.Identity)
	}

	if r.GridEvery > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		step := int32(r.GridEvery)
		grid := &canvas.Path{}
		for x := floorTo(p.minX, step); x <= p.maxX+1; x += step {
			cx, _ := toCanvas(column{x, p.minY})
			grid.MoveTo(cx, r.Padding)
			grid.LineTo(cx, height-r.Padding)
		}
		for y := floorTo(p.minY, step); y <= p.maxY+1; y += step {
			_, cy := toCanvas(column{p.minX, y})
			grid.MoveTo(r.Padding, cy)
			grid.LineTo(width-r.Padding, cy)
		}
		renderer.RenderPath(grid, gridStyle, canvas.Identity)
	}

	frontierStyle := canvas.DefaultStyle
	frontierStyle.Fill = canvas.Paint{Color: color.RGBA{255, 140, 0, 255}}
	frontierStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	radius := r.CellSize * 0.45
	for _, c := range p.frontier {
		x, y := toCanvas(c)
		dot := canvas.Circle(radius).Translate(x+r.CellSize/2, y+r.CellSize/2)
		renderer.RenderPath(dot, frontierStyle, canvas.Identity)
	}
}

// floorTo rounds v down to a multiple of step.
func floorTo(v, step int32) int32 {
	return int32(math.Floor(float64(v)/float64(step))) * step
}
