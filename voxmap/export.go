package voxmap

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// mapMagic starts every exported map stream.
var mapMagic = [4]byte{'V', 'X', 'M', '1'}

type mapHeader struct {
	Magic      [4]byte
	Resolution float64
	Origin     [3]float64
	Count      uint32
}

// WriteMap writes a zlib-compressed snapshot of nodes:
// header, then int32 x,y,z and float32 log-odds per node, little-endian.
// It is a publication format for consumers, not a persistence format.
func WriteMap(w io.Writer, codec KeyCodec, nodes []Node) error {
	zw := zlib.NewWriter(w)
	bw := bufio.NewWriter(zw)

	o := codec.Origin()
	h := mapHeader{
		Magic:      mapMagic,
		Resolution: codec.Resolution(),
		Origin:     [3]float64{o.X, o.Y, o.Z},
		Count:      uint32(len(nodes)),
	}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("writing map header: %w", err)
	}

	var rec [16]byte
	for _, n := range nodes {
		binary.LittleEndian.PutUint32(rec[0:4], uint32(n.Key.X))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(n.Key.Y))
		binary.LittleEndian.PutUint32(rec[8:12], uint32(n.Key.Z))
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(float32(n.LogOdds)))
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("writing map node: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing map: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing map stream: %w", err)
	}
	return nil
}

// MapSnapshot is a decoded map export.
type MapSnapshot struct {
	Resolution float64
	Origin     Vec3
	Nodes      []Node
}

// ReadMap decodes a stream written by WriteMap.
func ReadMap(r io.Reader) (*MapSnapshot, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = zr.Close() }()
	br := bufio.NewReader(zr)

	var h mapHeader
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading map header: %w", err)
	}
	if h.Magic != mapMagic {
		return nil, fmt.Errorf("%w: bad map magic %q", ErrUnknownFormat, h.Magic[:])
	}
	if h.Count > maxBatchPoints {
		return nil, fmt.Errorf("map export claims %d nodes", h.Count)
	}

	snap := &MapSnapshot{
		Resolution: h.Resolution,
		Origin:     Vec3{X: h.Origin[0], Y: h.Origin[1], Z: h.Origin[2]},
		Nodes:      make([]Node, h.Count),
	}
	var rec [16]byte
	for i := range snap.Nodes {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, fmt.Errorf("reading map node %d: %w", i, err)
		}
		snap.Nodes[i] = Node{
			Key: Key{
				X: int32(binary.LittleEndian.Uint32(rec[0:4])),
				Y: int32(binary.LittleEndian.Uint32(rec[4:8])),
				Z: int32(binary.LittleEndian.Uint32(rec[8:12])),
			},
			LogOdds: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16]))),
		}
	}
	return snap, nil
}
