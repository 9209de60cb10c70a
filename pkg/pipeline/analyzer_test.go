package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fociscan/internal/hdf5/hdf5test"
	"fociscan/internal/models"
	"fociscan/pkg/config"
	"fociscan/pkg/coords"
	"fociscan/pkg/imageio"
	"fociscan/pkg/labeling"
)

// createTestImage creates a 16-bit grey plane filled by pattern.
func createTestImage(width, height int, pattern func(x, y int) uint16) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: pattern(x, y)})
		}
	}
	return img
}

// writeSlices saves one PNG per plane into dir.
func writeSlices(t *testing.T, dir string, planes []image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for z, img := range planes {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("slice_%d.png", z)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

// createCells writes a 4x4x2 image with two foci:
//   - z=0: (0,0)=50, (1,0)=60, peak (1,0,0)
//   - z=1: (3,2)=30, (3,3)=30, tied, first in (x,y,z) order is (3,2,1)
//
// and a segmentation labelling plane 0 as segment 1 and plane 1 as 2.
func createCells(t *testing.T, root string) (cells, seg string) {
	t.Helper()
	cells = filepath.Join(root, "cells")
	writeSlices(t, cells, []image.Image{
		createTestImage(4, 4, func(x, y int) uint16 {
			switch {
			case x == 0 && y == 0:
				return 50
			case x == 1 && y == 0:
				return 60
			}
			return 0
		}),
		createTestImage(4, 4, func(x, y int) uint16 {
			if x == 3 && y >= 2 {
				return 30
			}
			return 0
		}),
	})

	seg = filepath.Join(root, "seg")
	writeSlices(t, seg, []image.Image{
		createTestImage(4, 4, func(int, int) uint16 { return 1 }),
		createTestImage(4, 4, func(int, int) uint16 { return 2 }),
	})
	return cells, seg
}

func xyzParams(t *testing.T, cells, out string) *Params {
	t.Helper()
	format, err := coords.ParseFormat("xyz")
	require.NoError(t, err)
	return &Params{
		ImagePath:    cells,
		OutputDir:    out,
		MinValue:     10,
		StepSize:     10,
		MinSize:      2,
		NumWorkers:   1,
		SaveStats:    true,
		Connectivity: labeling.Face,
		Output:       format,
		Spacing:      &models.Spacing{2, 2, 5},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestAnalyzerWithSegments(t *testing.T) {
	root := t.TempDir()
	cells, seg := createCells(t, root)
	out := filepath.Join(root, "out")

	params := xyzParams(t, cells, out)
	params.SegmentsPath = seg

	a := NewAnalyzer(params, nil)
	require.NoError(t, a.Process(context.Background()))
	res := a.Result()

	assert.Equal(t, []models.Point{{1, 0, 0}, {3, 2, 1}}, res.Points.Points())
	require.NotNil(t, res.Segments)
	assert.Equal(t, []models.Point{{1, 0, 0}}, res.Segments.Segment(1))
	assert.Equal(t, []models.Point{{3, 2, 1}}, res.Segments.Segment(2))
	assert.Equal(t, 0, res.Segments.Background)

	assert.Equal(t, []string{
		filepath.Join(out, "cells_statistics.txt"),
		filepath.Join(out, "cells_segment_1.xyz"),
		filepath.Join(out, "cells_segment_2.xyz"),
		filepath.Join(out, "cells_all_points.xyz"),
	}, res.Files)

	assert.Equal(t, "2\t0\t0\n", readFile(t, filepath.Join(out, "cells_segment_1.xyz")))
	assert.Equal(t, "6\t4\t5\n", readFile(t, filepath.Join(out, "cells_segment_2.xyz")))
	assert.Equal(t, "2\t0\t0\n6\t4\t5\n", readFile(t, filepath.Join(out, "cells_all_points.xyz")))

	stats := readFile(t, filepath.Join(out, "cells_statistics.txt"))
	assert.Contains(t, stats, "Maximal brightness of image: 60\n")
	assert.Contains(t, stats, "Points found: 2\n")
	assert.Contains(t, stats, "Spacing (x,y,z): (2, 2, 5)\n")
	assert.Contains(t, stats, "\tSegment 2: 1\n")
}

func TestAnalyzerSaveAll(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)
	out := filepath.Join(root, "out")

	params := xyzParams(t, cells, out)
	params.SaveAll = true
	params.SaveStats = false

	a := NewAnalyzer(params, nil)
	require.NoError(t, a.Process(context.Background()))

	// 50 and 60 leave single voxels, below the minimum size
	assert.Equal(t, []string{
		filepath.Join(out, "cells_brightness_10.xyz"),
		filepath.Join(out, "cells_brightness_20.xyz"),
		filepath.Join(out, "cells_brightness_30.xyz"),
		filepath.Join(out, "cells_brightness_40.xyz"),
		filepath.Join(out, "cells_all_points.xyz"),
	}, a.Result().Files)
	assert.Equal(t, "2\t0\t0\n", readFile(t, filepath.Join(out, "cells_brightness_30.xyz")))
}

func TestAnalyzerConcurrentMatchesSequential(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)

	seq := NewAnalyzer(xyzParams(t, cells, filepath.Join(root, "seq")), nil)
	require.NoError(t, seq.Process(context.Background()))

	params := xyzParams(t, cells, filepath.Join(root, "par"))
	params.NumWorkers = 4
	par := NewAnalyzer(params, nil)
	require.NoError(t, par.Process(context.Background()))

	assert.Equal(t, seq.Result().Points.Points(), par.Result().Points.Points())
}

func TestAnalyzerSingleStepCompressed(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)
	out := filepath.Join(root, "out")

	params := xyzParams(t, cells, out)
	params.SingleStep = 40
	params.SaveStats = false
	params.Compress = true

	a := NewAnalyzer(params, nil)
	require.NoError(t, a.Process(context.Background()))

	path := filepath.Join(out, "cells_brightness_40.xyz.gz")
	assert.Equal(t, []string{path}, a.Result().Files)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "2\t0\t0\n", string(data))
}

func TestAnalyzerMaxValueLimitsScan(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)

	params := xyzParams(t, cells, filepath.Join(root, "out"))
	params.MinValue = 30
	// limit 25 + margin 10 leaves only threshold 30
	params.MaxValue = 25

	a := NewAnalyzer(params, nil)
	require.NoError(t, a.Process(context.Background()))
	assert.Equal(t, []models.Point{{1, 0, 0}}, a.Result().Points.Points())
	// the report keeps the image maximum
	assert.Equal(t, 60.0, a.Result().Stats.MaxValue)
}

func TestAnalyzerSegmentationShapeMismatch(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)

	seg := filepath.Join(root, "small")
	writeSlices(t, seg, []image.Image{createTestImage(2, 2, func(int, int) uint16 { return 1 })})

	params := xyzParams(t, cells, filepath.Join(root, "out"))
	params.SegmentsPath = seg

	err := NewAnalyzer(params, nil).Process(context.Background())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAnalyzerUnsupportedImage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "cells.mrc")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := NewAnalyzer(xyzParams(t, path, filepath.Join(root, "out")), nil).Process(context.Background())
	assert.ErrorIs(t, err, imageio.ErrUnsupportedFormat)
}

func TestAnalyzerCMapSpacing(t *testing.T) {
	root := t.TempDir()
	cells := filepath.Join(root, "cells.cmap")
	// (z=1, y=1, x=4) with one two-voxel focus peaking at x=2
	require.NoError(t, hdf5test.WriteFile(cells, &hdf5test.Group{Groups: []*hdf5test.Group{{
		Name: "Chimera",
		Groups: []*hdf5test.Group{{
			Name:     "image1",
			Attrs:    []hdf5test.Attr{{Name: "step", Data: []float32{0.5, 1, 4}}},
			Datasets: []*hdf5test.Dataset{{Name: "data_zyx", Dims: []int{1, 1, 4}, Data: []float32{0, 30, 50, 0}}},
		}},
	}}}))
	out := filepath.Join(root, "out")

	params := xyzParams(t, cells, out)
	params.Spacing = nil
	params.SaveStats = false

	a := NewAnalyzer(params, nil)
	require.NoError(t, a.Process(context.Background()))
	assert.Equal(t, []models.Point{{2, 0, 0}}, a.Result().Points.Points())
	assert.Equal(t, "1\t0\t0\n", readFile(t, filepath.Join(out, "cells_all_points.xyz")))
}

func TestAnalyzerCancelled(t *testing.T) {
	root := t.TempDir()
	cells, _ := createCells(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewAnalyzer(xyzParams(t, cells, filepath.Join(root, "out")), nil).Process(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Input.Image = "cells.npy"
	cfg.Output.Format = "chimera"
	cfg.Output.MoleculeName = "foci"
	cfg.Output.StatsFormat = "yaml"
	cfg.Output.Spacing = []float64{0.1, 0.1, 0.3}
	cfg.Scan.Connectivity = 26
	cfg.Output.Connect = true

	p, err := ParamsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, coords.XYZ, p.Output.Format)
	assert.Equal(t, coords.XYZChimera, p.Output.XYZ.Style)
	assert.Equal(t, "foci", p.Output.XYZ.MoleculeName)
	assert.Equal(t, labeling.Full, p.Connectivity)
	assert.True(t, p.StatsYAML)
	assert.Equal(t, &models.Spacing{0.1, 0.1, 0.3}, p.Spacing)
	assert.True(t, p.Output.PDB.Connect)

	cfg.Output.Format = "mol2"
	_, err = ParamsFromConfig(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
