package voxmap

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Slice colors.
var (
	colorBackground = color.RGBA{40, 40, 48, 255}
	colorFree       = color.RGBA{220, 220, 220, 255}
	colorOccupied   = color.RGBA{20, 20, 20, 255}
	colorFrontier   = color.RGBA{255, 140, 0, 255}
	colorLegend     = color.RGBA{255, 255, 255, 255}
)

const legendHeight = 20

// SliceRenderer draws one horizontal layer of the map as a raster image.
type SliceRenderer struct {
	Map      *OccupancyMap
	Frontier *FrontierSet
	Z        float64 // height of the layer in map coordinates
	Scale    int     // pixels per voxel
	Padding  int
}

// NewSliceRenderer creates a renderer for the layer containing z.
func NewSliceRenderer(m *OccupancyMap, frontier *FrontierSet, z float64) *SliceRenderer {
	return &SliceRenderer{
		Map:      m,
		Frontier: frontier,
		Z:        z,
		Scale:    4,
		Padding:  10,
	}
}

// layerKey returns the Z key of the rendered layer.
func (r *SliceRenderer) layerKey() int32 {
	codec := r.Map.Codec()
	return int32(math.Floor((r.Z - codec.Origin().Z) / codec.Resolution()))
}

// Render draws the layer. Free cells are light, occupied cells dark and
// frontier cells orange; the legend line shows the counts.
func (r *SliceRenderer) Render() *image.RGBA {
	kz := r.layerKey()
	scale := r.Scale
	if scale < 1 {
		scale = 1
	}

	var cells []Node
	for _, n := range r.Map.Enumerate() {
		if n.Key.Z == kz {
			cells = append(cells, n)
		}
	}
	var frontier []Key
	if r.Frontier != nil {
		for _, k := range r.Frontier.Snapshot() {
			if k.Z == kz {
				frontier = append(frontier, k)
			}
		}
	}

	minX, minY, maxX, maxY := int32(0), int32(0), int32(-1), int32(-1)
	first := true
	extend := func(k Key) {
		if first {
			minX, maxX, minY, maxY = k.X, k.X, k.Y, k.Y
			first = false
			return
		}
		minX, maxX = min(minX, k.X), max(maxX, k.X)
		minY, maxY = min(minY, k.Y), max(maxY, k.Y)
	}
	for _, n := range cells {
		extend(n.Key)
	}
	for _, k := range frontier {
		extend(k)
	}

	cols := int(maxX-minX) + 1
	rows := int(maxY-minY) + 1
	width := cols*scale + 2*r.Padding
	height := rows*scale + 2*r.Padding + legendHeight
	if width < 200 {
		width = 200
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	// Image rows grow downwards, map Y grows upwards.
	cellRect := func(k Key) image.Rectangle {
		x := r.Padding + int(k.X-minX)*scale
		y := r.Padding + int(maxY-k.Y)*scale
		return image.Rect(x, y, x+scale, y+scale)
	}

	occupied, free := 0, 0
	for _, n := range cells {
		c := colorFree
		if n.LogOdds > occupancyThreshold {
			c = colorOccupied
			occupied++
		} else {
			free++
		}
		draw.Draw(img, cellRect(n.Key), &image.Uniform{c}, image.Point{}, draw.Src)
	}
	for _, k := range frontier {
		draw.Draw(img, cellRect(k), &image.Uniform{colorFrontier}, image.Point{}, draw.Src)
	}

	legend := fmt.Sprintf("z=%.2f free=%d occ=%d frontier=%d", r.Z, free, occupied, len(frontier))
	drawText(img, r.Padding, height-6, legend, colorLegend)
	return img
}

// drawText draws a label using the built-in 7x13 face.
func drawText(img *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// WritePNG encodes the rendered layer to w.
func (r *SliceRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders the layer to a PNG file.
func (r *SliceRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := r.WritePNG(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return f.Close()
}
