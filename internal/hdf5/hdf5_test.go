package hdf5_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fociscan/internal/hdf5"
	"fociscan/internal/hdf5/hdf5test"
)

func writeFile(t *testing.T, root *hdf5test.Group) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.h5")
	require.NoError(t, hdf5test.WriteFile(path, root))
	return path
}

func ramp(n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(i * 3)
	}
	return out
}

func TestContiguousDatasetInNestedGroups(t *testing.T) {
	path := writeFile(t, &hdf5test.Group{Groups: []*hdf5test.Group{{
		Name: "outer",
		Groups: []*hdf5test.Group{{
			Name:  "inner",
			Attrs: []hdf5test.Attr{{Name: "step", Data: []float32{0.5, 0.25, 2}}},
			Datasets: []*hdf5test.Dataset{
				{Name: "values", Dims: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6.5}},
				{Name: "other", Dims: []int{1}, Data: []uint8{9}},
			},
		}},
	}}})

	f, err := hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()

	ds, err := f.Dataset("/outer/inner/values")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, ds.Dims)

	layout, err := ds.Layout()
	require.NoError(t, err)
	assert.Equal(t, hdf5.ClassContiguous, layout.Class())

	got, err := ds.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6.5}, got)

	step, err := f.Attribute("outer/inner", "step")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25, 2}, step)

	other, err := f.Dataset("outer/inner/other")
	require.NoError(t, err)
	got, err = other.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, got)
}

func TestChunkedDatasetWithFilters(t *testing.T) {
	// chunks do not divide the shape, so edge chunks are clipped
	dims := []int{3, 5, 4}
	data := ramp(3 * 5 * 4)

	for _, tc := range []struct {
		name             string
		shuffle, deflate bool
	}{
		{"plain", false, false},
		{"deflate", false, true},
		{"shuffle and deflate", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, &hdf5test.Group{Datasets: []*hdf5test.Dataset{{
				Name:    "volume",
				Dims:    dims,
				Data:    data,
				Chunk:   []int{2, 2, 3},
				Shuffle: tc.shuffle,
				Deflate: tc.deflate,
			}}})

			f, err := hdf5.Open(path)
			require.NoError(t, err)
			defer f.Close()

			ds, err := f.Dataset("volume")
			require.NoError(t, err)
			layout, err := ds.Layout()
			require.NoError(t, err)
			assert.Equal(t, hdf5.ClassChunked, layout.Class())

			got, err := ds.ReadFloat64()
			require.NoError(t, err)
			require.Len(t, got, len(data))
			for i, v := range data {
				require.Equal(t, float64(v), got[i], "element %d", i)
			}
		})
	}
}

func TestSignedAndDoubleElements(t *testing.T) {
	path := writeFile(t, &hdf5test.Group{Datasets: []*hdf5test.Dataset{
		{Name: "ints", Dims: []int{3}, Data: []int32{-7, 0, 70000}},
		{Name: "doubles", Dims: []int{2}, Data: []float64{1e-3, -2.5}},
	}})

	f, err := hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()

	ints, err := f.Dataset("ints")
	require.NoError(t, err)
	got, err := ints.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{-7, 0, 70000}, got)

	doubles, err := f.Dataset("doubles")
	require.NoError(t, err)
	got, err = doubles.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-3, -2.5}, got)
}

func TestMissingObjects(t *testing.T) {
	path := writeFile(t, &hdf5test.Group{Groups: []*hdf5test.Group{{
		Name:     "group",
		Datasets: []*hdf5test.Dataset{{Name: "data", Dims: []int{1}, Data: []uint8{1}}},
	}}})

	f, err := hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Dataset("group/absent")
	assert.ErrorIs(t, err, hdf5.ErrNotFound)

	_, err = f.Dataset("absent/data")
	assert.ErrorIs(t, err, hdf5.ErrNotFound)

	// a group is not a dataset
	_, err = f.Dataset("group")
	assert.ErrorIs(t, err, hdf5.ErrNotFound)

	_, err = f.Attribute("group", "step")
	assert.ErrorIs(t, err, hdf5.ErrNotFound)
}

func TestNotHDF5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.h5")
	require.NoError(t, os.WriteFile(path, []byte("not a volume at all"), 0o644))

	_, err := hdf5.Open(path)
	assert.ErrorIs(t, err, hdf5.ErrNotHDF5)
}

func TestTruncatedFile(t *testing.T) {
	data, err := hdf5test.Encode(&hdf5test.Group{Datasets: []*hdf5test.Dataset{
		{Name: "data", Dims: []int{4}, Data: []float32{1, 2, 3, 4}},
	}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "short.h5")
	require.NoError(t, os.WriteFile(path, data[:200], 0o644))

	f, err := hdf5.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Dataset("data")
	assert.Error(t, err)
}
