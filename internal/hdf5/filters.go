package hdf5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Filter identifiers of the HDF5 registry.
const (
	filterDeflate    = 1
	filterShuffle    = 2
	filterFletcher32 = 3
)

type filter struct {
	id     uint16
	values []uint32
}

func parseFilterPipeline(b []byte) ([]filter, error) {
	d := &decoder{b: b}
	version := d.u8()
	n := int(d.u8())
	if version == 1 {
		d.skip(6)
	} else if version != 2 {
		return nil, fmt.Errorf("%w: filter pipeline version %d", ErrUnsupported, version)
	}

	out := make([]filter, n)
	for i := range out {
		f := &out[i]
		f.id = d.u16()
		nameLen := 0
		if version == 1 || f.id >= 256 {
			nameLen = int(d.u16())
		}
		d.skip(2) // flags
		nvalues := int(d.u16())
		if version == 1 {
			nameLen = pad8(nameLen)
		}
		d.skip(nameLen)
		f.values = make([]uint32, nvalues)
		for j := range f.values {
			f.values[j] = d.u32()
		}
		if version == 1 && nvalues%2 == 1 {
			d.skip(4)
		}
	}
	return out, d.err
}

// applyFilters undoes the pipeline in reverse order. Bit i of mask set
// means filter i was skipped for this chunk.
func applyFilters(pipeline []filter, mask uint32, data []byte, elemSize int) ([]byte, error) {
	for i := len(pipeline) - 1; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			continue
		}
		f := pipeline[i]
		var err error
		switch f.id {
		case filterDeflate:
			data, err = inflate(data)
		case filterShuffle:
			size := elemSize
			if len(f.values) > 0 && f.values[0] > 0 {
				size = int(f.values[0])
			}
			data = unshuffle(data, size)
		case filterFletcher32:
			if len(data) < 4 {
				return nil, errTruncated
			}
			data = data[:len(data)-4]
		default:
			return nil, fmt.Errorf("%w: filter %d", ErrUnsupported, f.id)
		}
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return out, nil
}

// unshuffle regroups bytes stored as all first bytes of every element,
// then all second bytes, and so on. Trailing bytes are kept as stored.
func unshuffle(data []byte, size int) []byte {
	if size <= 1 {
		return data
	}
	n := len(data) / size
	out := make([]byte, len(data))
	for j := 0; j < size; j++ {
		for i := 0; i < n; i++ {
			out[i*size+j] = data[j*n+i]
		}
	}
	copy(out[n*size:], data[n*size:])
	return out
}
