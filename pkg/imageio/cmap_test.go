package imageio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fociscan/internal/hdf5/hdf5test"
	"fociscan/internal/models"
)

// writeCMap writes a Chimera map of shape (z, y, x) holding data, with
// step as the voxel size when not nil.
func writeCMap(t *testing.T, path string, dims []int, data any, step []float32, chunk []int) {
	t.Helper()
	image := &hdf5test.Group{
		Name: "image1",
		Datasets: []*hdf5test.Dataset{{
			Name:    "data_zyx",
			Dims:    dims,
			Data:    data,
			Chunk:   chunk,
			Shuffle: chunk != nil,
			Deflate: chunk != nil,
		}},
	}
	if step != nil {
		image.Attrs = []hdf5test.Attr{{Name: "step", Data: step}}
	}
	root := &hdf5test.Group{Groups: []*hdf5test.Group{{Name: "Chimera", Groups: []*hdf5test.Group{image}}}}
	require.NoError(t, hdf5test.WriteFile(path, root))
}

func TestLoadCMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.cmap")
	// shape (z=2, y=3, x=4), value = flat index
	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i)
	}
	writeCMap(t, path, []int{2, 3, 4}, data, []float32{0.5, 0.25, 2}, nil)

	v, maxBright, err := LoadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Width: 4, Height: 3, Depth: 2}, v.Shape)
	assert.Equal(t, 23.0, maxBright)
	assert.Equal(t, models.Spacing{0.5, 0.25, 2}, v.Spacing)
	assert.Equal(t, float64(1*12+2*4+3), v.At(3, 2, 1))
}

func TestLoadCMapChunkedWithoutStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.cmap")
	data := make([]uint16, 3*5*4)
	data[2*20+4*4+3] = 900
	writeCMap(t, path, []int{3, 5, 4}, data, nil, []int{2, 2, 2})

	v, maxBright, err := LoadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Width: 4, Height: 5, Depth: 3}, v.Shape)
	assert.Equal(t, models.DefaultSpacing, v.Spacing)
	assert.Equal(t, 900.0, maxBright)
	assert.Equal(t, 900.0, v.At(3, 4, 2))
}

func TestLoadCMapSegmentation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.cmap")
	writeCMap(t, path, []int{1, 1, 4}, []uint8{0, 2, 0, 1}, []float32{1, 1, 1}, nil)

	l, err := LoadSegmentation(path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 0, 1}, l.Data)
}

func TestLoadCMapWithoutMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.cmap")
	require.NoError(t, hdf5test.WriteFile(path, &hdf5test.Group{Groups: []*hdf5test.Group{{Name: "Chimera"}}}))

	_, _, err := LoadVolume(path)
	assert.ErrorContains(t, err, "Chimera/image1/data_zyx")
}

func TestLoadCMapNotHDF5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cmap")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, _, err := LoadVolume(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadCMapRejectsFlatMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.cmap")
	writeCMap(t, path, []int{2, 2}, []float32{1, 2, 3, 4}, nil, nil)

	_, _, err := LoadVolume(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
