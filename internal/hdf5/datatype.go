package hdf5

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	classFixedPoint = 0
	classFloat      = 1
)

// datatype is a numeric element type.
type datatype struct {
	class     uint8
	size      int
	signed    bool
	bigEndian bool
}

func parseDatatype(m message) (datatype, error) {
	if m.flags&flagShared != 0 {
		return datatype{}, fmt.Errorf("%w: committed datatype", ErrUnsupported)
	}
	return decodeDatatype(m.data)
}

func decodeDatatype(b []byte) (datatype, error) {
	if len(b) < 8 {
		return datatype{}, errTruncated
	}
	t := datatype{
		class: b[0] & 0x0F,
		size:  int(binary.LittleEndian.Uint32(b[4:8])),
	}
	bits := b[1]

	switch t.class {
	case classFixedPoint:
		t.bigEndian = bits&0x01 != 0
		t.signed = bits&0x08 != 0
		switch t.size {
		case 1, 2, 4, 8:
			return t, nil
		}
	case classFloat:
		if bits&0x40 != 0 {
			return datatype{}, fmt.Errorf("%w: VAX float order", ErrUnsupported)
		}
		t.bigEndian = bits&0x01 != 0
		switch t.size {
		case 4, 8:
			return t, nil
		}
	default:
		return datatype{}, fmt.Errorf("%w: datatype class %d", ErrUnsupported, t.class)
	}
	return datatype{}, fmt.Errorf("%w: %d byte element of class %d", ErrUnsupported, t.size, t.class)
}

// decode converts len(out) elements of raw to float64.
func (t datatype) decode(raw []byte, out []float64) {
	var order binary.ByteOrder = binary.LittleEndian
	if t.bigEndian {
		order = binary.BigEndian
	}

	for i := range out {
		b := raw[i*t.size:]
		switch {
		case t.class == classFloat && t.size == 4:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case t.class == classFloat:
			out[i] = math.Float64frombits(order.Uint64(b))
		case t.size == 1 && t.signed:
			out[i] = float64(int8(b[0]))
		case t.size == 1:
			out[i] = float64(b[0])
		case t.size == 2 && t.signed:
			out[i] = float64(int16(order.Uint16(b)))
		case t.size == 2:
			out[i] = float64(order.Uint16(b))
		case t.size == 4 && t.signed:
			out[i] = float64(int32(order.Uint32(b)))
		case t.size == 4:
			out[i] = float64(order.Uint32(b))
		case t.signed:
			out[i] = float64(int64(order.Uint64(b)))
		default:
			out[i] = float64(order.Uint64(b))
		}
	}
}

// dataspace is the shape of a dataset or attribute.
type dataspace struct {
	dims []uint64
	null bool
}

// count is the number of elements; a scalar holds one.
func (s dataspace) count() uint64 {
	if s.null {
		return 0
	}
	n := uint64(1)
	for _, d := range s.dims {
		n *= d
	}
	return n
}

func parseDataspace(m message, r *reader) (dataspace, error) {
	if m.flags&flagShared != 0 {
		return dataspace{}, fmt.Errorf("%w: shared dataspace", ErrUnsupported)
	}
	return decodeDataspace(m.data, r)
}

func decodeDataspace(b []byte, r *reader) (dataspace, error) {
	d := &decoder{b: b, r: r}
	version := d.u8()
	rank := int(d.u8())
	d.skip(1) // flags
	var s dataspace
	switch version {
	case 1:
		d.skip(5)
	case 2:
		s.null = d.u8() == 2
	default:
		return dataspace{}, fmt.Errorf("%w: dataspace version %d", ErrUnsupported, version)
	}
	s.dims = make([]uint64, rank)
	for i := range s.dims {
		s.dims[i] = d.length()
	}
	return s, d.err
}
