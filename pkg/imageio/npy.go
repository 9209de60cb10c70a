package imageio

import (
	"fmt"
	"os"
	"strings"

	"github.com/sbinet/npyio"

	"fociscan/internal/models"
)

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func toFloat[T number](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// loadNPY reads a C-ordered (z, y, x) or (z, y, x, channel) array.
func loadNPY(path string) (*raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header of %s: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("%w: %s is Fortran-ordered", ErrUnsupportedFormat, path)
	}

	shape := r.Header.Descr.Shape
	channels := 1
	switch len(shape) {
	case 3:
	case 4:
		channels = shape[3]
	default:
		return nil, fmt.Errorf("%w: %s has %d dimensions, want 3", ErrUnsupportedFormat, path, len(shape))
	}

	data, err := readNPYData(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy data of %s: %w", path, err)
	}

	s := models.Shape{Width: shape[2], Height: shape[1], Depth: shape[0]}
	if len(data) != s.Len()*channels {
		return nil, fmt.Errorf("%s: got %d values for shape %v", path, len(data), shape)
	}
	if channels > 1 {
		first := make([]float64, s.Len())
		for i := range first {
			first[i] = data[i*channels]
		}
		data = first
	}

	return &raw{data: data, shape: s}, nil
}

func readNPYData(r *npyio.Reader) ([]float64, error) {
	// byte order markers: '<' little endian, '|' not applicable, '=' native
	dtype := strings.TrimLeft(r.Header.Descr.Type, "<|=")

	switch dtype {
	case "f8":
		var v []float64
		err := r.Read(&v)
		return v, err
	case "f4":
		var v []float32
		err := r.Read(&v)
		return toFloat(v), err
	case "i8":
		var v []int64
		err := r.Read(&v)
		return toFloat(v), err
	case "i4":
		var v []int32
		err := r.Read(&v)
		return toFloat(v), err
	case "i2":
		var v []int16
		err := r.Read(&v)
		return toFloat(v), err
	case "i1":
		var v []int8
		err := r.Read(&v)
		return toFloat(v), err
	case "u8":
		var v []uint64
		err := r.Read(&v)
		return toFloat(v), err
	case "u4":
		var v []uint32
		err := r.Read(&v)
		return toFloat(v), err
	case "u2":
		var v []uint16
		err := r.Read(&v)
		return toFloat(v), err
	case "u1":
		var v []uint8
		err := r.Read(&v)
		return toFloat(v), err
	case "b1":
		var v []bool
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		out := make([]float64, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: numpy dtype %q", ErrUnsupportedFormat, r.Header.Descr.Type)
}
