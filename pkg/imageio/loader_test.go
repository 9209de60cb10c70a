package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"fociscan/internal/models"
)

// writeNPY writes a little-endian, C-ordered version 1.0 .npy file.
func writeNPY(t *testing.T, path, dtype string, shape []int, data any) {
	t.Helper()

	dims := make([]string, len(shape))
	for i, n := range shape {
		dims[i] = fmt.Sprint(n)
	}
	tuple := strings.Join(dims, ", ")
	if len(dims) == 1 {
		tuple += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", dtype, tuple)
	// magic(6) + version(2) + length(2) + header + newline, padded to 64
	pad := 64 - (10+len(header)+1)%64
	header += strings.Repeat(" ", pad%64) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
	buf.WriteString(header)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, data))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func gray16(w, h int, value func(x, y int) uint16) image.Image {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value(x, y)})
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadNPYVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.npy")
	// shape (z=2, y=3, x=4), value = flat index
	data := make([]float64, 24)
	for i := range data {
		data[i] = float64(i)
	}
	writeNPY(t, path, "<f8", []int{2, 3, 4}, data)

	v, maxBright, err := LoadVolume(path)
	require.NoError(t, err)

	assert.Equal(t, models.Shape{Width: 4, Height: 3, Depth: 2}, v.Shape)
	assert.Equal(t, 23.0, maxBright)
	assert.Equal(t, models.DefaultSpacing, v.Spacing)
	// file index z*12 + y*4 + x
	assert.Equal(t, float64(1*12+2*4+3), v.At(3, 2, 1))
}

func TestLoadNPYChannelZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.npy")
	data := make([]uint16, 2*2*1*3)
	for i := range data {
		data[i] = uint16(i)
	}
	writeNPY(t, path, "<u2", []int{1, 2, 2, 3}, data)

	v, _, err := LoadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3, 6, 9}, v.Data)
}

func TestLoadSegmentationNPY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.npy")
	writeNPY(t, path, "<i4", []int{1, 1, 4}, []int32{0, 2, -1, 1})

	l, err := LoadSegmentation(path)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 0, 1}, l.Data)
	assert.Equal(t, 2, l.Max())
}

func TestLoadSliceDirectory(t *testing.T) {
	dir := t.TempDir()
	// numeric order, not lexical: slice_10 is the last plane
	for _, z := range []int{2, 10, 1} {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("slice_%d.png", z)), gray16(3, 2, func(x, y int) uint16 {
			return uint16(z*100 + y*10 + x)
		}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	v, maxBright, err := LoadVolume(dir)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Width: 3, Height: 2, Depth: 3}, v.Shape)
	assert.Equal(t, 112.0, v.At(2, 1, 0))
	assert.Equal(t, 200.0, v.At(0, 0, 1))
	assert.Equal(t, 1012.0, maxBright)
}

func TestLoadSliceDirectoryMismatchedSizes(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "1.png"), gray16(3, 2, func(int, int) uint16 { return 0 }))
	writePNG(t, filepath.Join(dir, "2.png"), gray16(2, 2, func(int, int) uint16 { return 0 }))

	_, _, err := LoadVolume(dir)
	assert.Error(t, err)
}

func TestLoadSingleTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plane.tiff")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, gray16(4, 4, func(x, y int) uint16 { return uint16(x * y) }), nil))
	require.NoError(t, f.Close())

	v, maxBright, err := LoadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Depth)
	assert.Equal(t, 9.0, maxBright)
}

func TestUnsupportedFormats(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"image.mrc", "image.raw"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		_, _, err := LoadVolume(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}

	_, _, err := LoadVolume(t.TempDir())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractNumber(t *testing.T) {
	assert.Equal(t, 12, extractNumber("slice_012.tif"))
	assert.Equal(t, 0, extractNumber("slice.tif"))
}
