// Package imageio loads brightness volumes and segmentation volumes.
//
// Sources are read in their storage order (z, y, x), which is the flat
// layout of models.Volume, so no axis copy is needed:
//
//   - .npy files holding a 3D array (a 4D array is read at channel 0)
//   - Chimera .cmap maps, the HDF5 dataset Chimera/image1/data_zyx
//   - directories of 2D slices (.tif, .tiff, .png, .jpg, .jpeg), one
//     z-plane per file, ordered by the number in the file name
//   - a single TIFF file, one z-plane per page
//   - a single PNG or JPEG file, read as a one-plane volume
//
// Only .cmap maps carry a voxel size; every other source gets (1, 1, 1).
package imageio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fociscan/internal/models"
)

// ErrUnsupportedFormat is returned for sources no loader understands.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var sliceExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// raw is a decoded grid in storage order before it becomes a volume.
type raw struct {
	data    []float64
	shape   models.Shape
	spacing models.Spacing
}

// LoadVolume reads a brightness volume and returns it with its brightest
// value.
func LoadVolume(path string) (*models.Volume, float64, error) {
	r, err := load(path)
	if err != nil {
		return nil, 0, err
	}
	v := &models.Volume{Data: r.data, Shape: r.shape, Spacing: models.DefaultSpacing}
	if r.spacing != (models.Spacing{}) {
		v.Spacing = r.spacing
	}
	return v, v.Max(), nil
}

// LoadSegmentation reads an integer label volume. Non-integer values are
// truncated and negative values become background.
func LoadSegmentation(path string) (*models.LabelVolume, error) {
	r, err := load(path)
	if err != nil {
		return nil, err
	}
	l := models.NewLabelVolume(r.shape)
	for i, v := range r.data {
		if v > 0 {
			l.Data[i] = int(v)
		}
	}
	return l, nil
}

// CheckFormat reports whether path names a source LoadVolume can read,
// without decoding it.
func CheckFormat(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".npy" || ext == ".cmap" || sliceExtensions[ext] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func load(path string) (*raw, error) {
	if err := CheckFormat(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loadSliceDir(path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return loadNPY(path)
	case ".cmap":
		return loadCMap(path)
	case ".tif", ".tiff":
		return loadTIFFStack(path)
	}
	return loadSliceFile(path)
}
