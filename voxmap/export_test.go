package voxmap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMap(t *testing.T) {
	cfg := testMapConfig(0.05)
	cfg.Origin = Vec3{X: -1, Y: 2, Z: 0}
	m := NewOccupancyMap(cfg)
	setOccupied(t, m, Key{1, 2, 3}, Key{-100, 0, 7})
	setFree(t, m, Key{0, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, WriteMap(&buf, m.Codec(), m.Enumerate()))

	snap, err := ReadMap(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0.05, snap.Resolution)
	assert.Equal(t, cfg.Origin, snap.Origin)
	assert.Equal(t, m.Enumerate(), snap.Nodes, "clamp values are exact in float32")
}

func TestWriteReadMap_Empty(t *testing.T) {
	m := newTestMap(0.1)
	var buf bytes.Buffer
	require.NoError(t, WriteMap(&buf, m.Codec(), nil))

	snap, err := ReadMap(&buf)
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes)
}

func TestReadMap_BadMagic(t *testing.T) {
	// A zlib stream holding something other than a map header.
	z, err := CompressZlib(make([]byte, 64))
	require.NoError(t, err)

	_, err = ReadMap(bytes.NewReader(z))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestReadMap_NotZlib(t *testing.T) {
	_, err := ReadMap(bytes.NewReader([]byte("VXM1 plain")))
	assert.Error(t, err)
}
