package imageio

import (
	"errors"
	"fmt"

	"fociscan/internal/hdf5"
	"fociscan/internal/models"
)

// Chimera maps keep the grid in (z, y, x) order under cmapGroup; the voxel
// size is the step attribute of that group, in (x, y, z) order.
const (
	cmapGroup   = "Chimera/image1"
	cmapDataset = cmapGroup + "/data_zyx"
	cmapStep    = "step"
)

// loadCMap reads a Chimera .cmap (HDF5) map. A missing step, or one that
// does not hold three values, leaves the spacing at (1, 1, 1).
func loadCMap(path string) (*raw, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		if errors.Is(err, hdf5.ErrNotHDF5) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, err
	}
	defer f.Close()

	ds, err := f.Dataset(cmapDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to open map in %s: %w", path, err)
	}
	if len(ds.Dims) != 3 {
		return nil, fmt.Errorf("%w: %s holds a %dD map", ErrUnsupportedFormat, path, len(ds.Dims))
	}
	data, err := ds.ReadFloat64()
	if err != nil {
		return nil, fmt.Errorf("failed to read map in %s: %w", path, err)
	}

	r := &raw{
		data: data,
		shape: models.Shape{
			Width:  int(ds.Dims[2]),
			Height: int(ds.Dims[1]),
			Depth:  int(ds.Dims[0]),
		},
		spacing: models.DefaultSpacing,
	}

	step, err := f.Attribute(cmapGroup, cmapStep)
	switch {
	case err == nil && len(step) == 3:
		r.spacing = models.Spacing{step[0], step[1], step[2]}
	case err != nil && !errors.Is(err, hdf5.ErrNotFound):
		return nil, fmt.Errorf("failed to read voxel size in %s: %w", path, err)
	}
	return r, nil
}
