package hdf5

import (
	"fmt"
)

// attribute decodes the numeric attribute name of obj.
func (r *reader) attribute(obj *object, name string) ([]float64, error) {
	for _, m := range obj.msgs {
		switch m.typ {
		case msgAttribute:
			a, err := parseAttribute(m.data, r)
			if err != nil {
				return nil, err
			}
			if a.name != name {
				continue
			}
			if a.typeErr != nil {
				return nil, a.typeErr
			}
			n := a.space.count()
			if uint64(len(a.data)) < n*uint64(a.dtype.size) {
				return nil, errTruncated
			}
			out := make([]float64, n)
			a.dtype.decode(a.data, out)
			return out, nil
		case msgAttributeInfo:
			if r.denseAttributes(m.data) {
				return nil, fmt.Errorf("%w: dense attribute storage", ErrUnsupported)
			}
		}
	}
	return nil, ErrNotFound
}

type attribute struct {
	name  string
	dtype datatype
	space dataspace
	data  []byte

	// typeErr is set for datatypes decode does not handle, such as strings
	typeErr error
}

// parseAttribute decodes an attribute message. Version 1 pads the name,
// datatype and dataspace to 8 bytes; later versions pack them.
func parseAttribute(b []byte, r *reader) (attribute, error) {
	d := &decoder{b: b, r: r}
	version := d.u8()
	d.skip(1)
	nameSize := int(d.u16())
	typeSize := int(d.u16())
	spaceSize := int(d.u16())

	pad := func(n int) int { return n }
	switch version {
	case 1:
		pad = pad8
	case 2:
	case 3:
		d.skip(1) // name encoding
	default:
		return attribute{}, fmt.Errorf("%w: attribute version %d", ErrUnsupported, version)
	}

	name := d.bytes(pad(nameSize))
	typ := d.bytes(pad(typeSize))
	space := d.bytes(pad(spaceSize))
	if d.err != nil {
		return attribute{}, d.err
	}

	a := attribute{name: cString(name[:nameSize]), data: b[d.off:]}
	a.dtype, a.typeErr = decodeDatatype(typ[:typeSize])
	var err error
	if a.space, err = decodeDataspace(space[:spaceSize], r); err != nil {
		return attribute{}, err
	}
	return a, nil
}

// denseAttributes reports whether an attribute info message points at a
// fractal heap.
func (r *reader) denseAttributes(b []byte) bool {
	d := &decoder{b: b, r: r}
	d.skip(1)
	if flags := d.u8(); flags&0x01 != 0 {
		d.skip(2)
	}
	heap := d.addr()
	return d.err == nil && !r.undefined(heap)
}
