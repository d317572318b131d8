package voxmap

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// binaryMagic starts every binary point batch.
var binaryMagic = [4]byte{'P', 'C', 'B', '1'}

// maxBatchPoints bounds the size of a decoded batch.
const maxBatchPoints = 1 << 24

// pointBatchJSON is the JSON wire form of a Frame. A null point marks an
// invalid sample.
type pointBatchJSON struct {
	Frame  string        `json:"frame"`
	Sensor string        `json:"sensor,omitempty"`
	Stamp  float64       `json:"stamp,omitempty"` // unix seconds
	Origin [3]float64    `json:"origin"`
	Width  int           `json:"width,omitempty"`
	Height int           `json:"height,omitempty"`
	Points []*[3]float64 `json:"points"`
	Labels []int         `json:"labels,omitempty"`
}

// binaryHeader precedes the points of a binary batch, little-endian.
type binaryHeader struct {
	Magic    [4]byte
	Width    uint32
	Height   uint32
	Count    uint32
	Stamp    float64
	Origin   [3]float64
	FrameLen uint16
}

// DecodeFrame decodes a point batch from one of:
// - JSON (starts with '{')
// - binary PCB1
// - either of the above zlib-compressed
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	f, err := decodeUncompressed(data)
	if err == nil || !isUnknownFormat(err) {
		return f, err
	}

	inflated, zerr := inflateZlib(data)
	if zerr != nil {
		return nil, fmt.Errorf("%w: not JSON, PCB1, or zlib-compressed", ErrUnknownFormat)
	}
	if len(inflated) == 0 {
		return nil, fmt.Errorf("decoded payload is empty: %w", ErrEmptyPayload)
	}
	return decodeUncompressed(inflated)
}

func decodeUncompressed(data []byte) (*Frame, error) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], binaryMagic[:]):
		return decodeBinary(data)
	case data[0] == '{':
		return decodeJSON(data)
	default:
		return nil, ErrUnknownFormat
	}
}

func isUnknownFormat(err error) bool {
	return errors.Is(err, ErrUnknownFormat)
}

func decodeJSON(data []byte) (*Frame, error) {
	var pb pointBatchJSON
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parsing point batch JSON: %w", err)
	}

	f := &Frame{
		SensorID: pb.Sensor,
		FrameID:  pb.Frame,
		Stamp:    stampTime(pb.Stamp),
		Origin:   r3.Vec{X: pb.Origin[0], Y: pb.Origin[1], Z: pb.Origin[2]},
		Width:    pb.Width,
		Height:   pb.Height,
		Points:   make([]r3.Vec, len(pb.Points)),
	}
	nan := math.NaN()
	for i, p := range pb.Points {
		if p == nil {
			f.Points[i] = r3.Vec{X: nan, Y: nan, Z: nan}
			continue
		}
		f.Points[i] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}
	if len(pb.Labels) > 0 {
		f.Labels = make([]Label, len(pb.Labels))
		for i, l := range pb.Labels {
			if l < int(Outside) || l > int(Clip) {
				return nil, fmt.Errorf("%w: label %d at point %d", ErrInvalidFrame, l, i)
			}
			f.Labels[i] = Label(l)
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeBinary(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)
	var h binaryHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading PCB1 header: %w", err)
	}
	if h.Count > maxBatchPoints {
		return nil, fmt.Errorf("%w: %d points exceeds limit", ErrInvalidFrame, h.Count)
	}
	frameID := make([]byte, h.FrameLen)
	if _, err := io.ReadFull(r, frameID); err != nil {
		return nil, fmt.Errorf("reading PCB1 frame id: %w", err)
	}

	const recordSize = 13
	if r.Len() < int(h.Count)*recordSize {
		return nil, fmt.Errorf("truncated PCB1 payload: want %d point bytes, have %d", int(h.Count)*recordSize, r.Len())
	}

	f := &Frame{
		FrameID: string(frameID),
		Stamp:   stampTime(h.Stamp),
		Origin:  r3.Vec{X: h.Origin[0], Y: h.Origin[1], Z: h.Origin[2]},
		Width:   int(h.Width),
		Height:  int(h.Height),
		Points:  make([]r3.Vec, h.Count),
		Labels:  make([]Label, h.Count),
	}
	var rec [recordSize]byte
	for i := range f.Points {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, fmt.Errorf("reading PCB1 point %d: %w", i, err)
		}
		f.Points[i] = r3.Vec{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
		}
		if rec[12] > byte(Clip) {
			return nil, fmt.Errorf("%w: label %d at point %d", ErrInvalidFrame, rec[12], i)
		}
		f.Labels[i] = Label(rec[12])
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeFrameJSON renders f in the JSON batch format.
func EncodeFrameJSON(f *Frame) ([]byte, error) {
	pb := pointBatchJSON{
		Frame:  f.FrameID,
		Sensor: f.SensorID,
		Stamp:  unixSeconds(f.Stamp),
		Origin: [3]float64{f.Origin.X, f.Origin.Y, f.Origin.Z},
		Width:  f.Width,
		Height: f.Height,
		Points: make([]*[3]float64, len(f.Points)),
	}
	for i, p := range f.Points {
		if !isFinite(p) {
			continue
		}
		pb.Points[i] = &[3]float64{p.X, p.Y, p.Z}
	}
	if len(f.Labels) > 0 {
		pb.Labels = make([]int, len(f.Labels))
		for i, l := range f.Labels {
			pb.Labels[i] = int(l)
		}
	}
	return json.Marshal(pb)
}

// EncodeFrameBinary renders f in the PCB1 format.
func EncodeFrameBinary(f *Frame) ([]byte, error) {
	if len(f.FrameID) > math.MaxUint16 {
		return nil, fmt.Errorf("frame id too long: %d bytes", len(f.FrameID))
	}
	var buf bytes.Buffer
	h := binaryHeader{
		Magic:    binaryMagic,
		Width:    uint32(f.Width),
		Height:   uint32(f.Height),
		Count:    uint32(len(f.Points)),
		Stamp:    unixSeconds(f.Stamp),
		Origin:   [3]float64{f.Origin.X, f.Origin.Y, f.Origin.Z},
		FrameLen: uint16(len(f.FrameID)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("writing PCB1 header: %w", err)
	}
	buf.WriteString(f.FrameID)

	var rec [13]byte
	for i, p := range f.Points {
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(p.Z)))
		rec[12] = byte(f.Label(i))
		buf.Write(rec[:])
	}
	return buf.Bytes(), nil
}

// CompressZlib deflates data, as accepted by DecodeFrame.
func CompressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	return buf.Bytes(), nil
}

// inflateZlib decompresses zlib-compressed data
func inflateZlib(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating zlib reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing zlib data: %w", err)
	}
	return decompressed, nil
}

// DecodeFrameFile reads and decodes a point batch file.
func DecodeFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return DecodeFrame(data)
}

func stampTime(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
